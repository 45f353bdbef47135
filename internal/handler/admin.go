package handler

import (
	"net/http"
	"time"

	"github.com/eduhealth/backend/internal/repository"
	"github.com/eduhealth/backend/internal/service"
)

// AdminHandler handles admin-only reporting endpoints.
type AdminHandler struct {
	txRepo   repository.TransactionRepository
	userRepo repository.UserRepository
	auth     *service.AuthService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(txRepo repository.TransactionRepository, userRepo repository.UserRepository, auth *service.AuthService) *AdminHandler {
	return &AdminHandler{txRepo: txRepo, userRepo: userRepo, auth: auth}
}

// GetStats handles GET /api/admin/stats.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.txRepo.CountByStatus(ctx)
	if err != nil {
		Error(w, err)
		return
	}

	revenue, err := h.txRepo.VerifiedRevenue(ctx)
	if err != nil {
		Error(w, err)
		return
	}

	premium, err := h.userRepo.CountPremium(ctx, time.Now().UTC())
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"transactionsByStatus": counts,
		"verifiedRevenue":      revenue, // minor units
		"activePremiumUsers":   premium,
	})
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.auth.ListUsers(r.Context())
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, users)
}
