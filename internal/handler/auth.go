package handler

import (
	"net/http"

	"github.com/eduhealth/backend/internal/contextkeys"
	"github.com/eduhealth/backend/internal/domain"
	"github.com/eduhealth/backend/internal/service"
)

// AuthHandler handles authentication HTTP endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/auth/logout. Tokens are stateless; the client
// just discards its copy.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(contextkeys.UserID).(string)
	email, _ := r.Context().Value(contextkeys.UserEmail).(string)
	role, _ := r.Context().Value(contextkeys.UserRole).(string)

	JSON(w, http.StatusOK, map[string]string{
		"id":    userID,
		"email": email,
		"role":  role,
	})
}
