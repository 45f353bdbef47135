package handler

import (
	"net/http"

	"github.com/eduhealth/backend/internal/contextkeys"
	"github.com/eduhealth/backend/internal/domain"
	"github.com/eduhealth/backend/internal/service"
	"github.com/go-chi/chi/v5"
)

// PaymentHandler exposes the payment lifecycle endpoints.
type PaymentHandler struct {
	svc *service.SubscriptionService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc *service.SubscriptionService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

func userIDFrom(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(contextkeys.UserID).(string)
	return userID, ok && userID != ""
}

// Initialize handles POST /api/payment/initialize.
func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.InitiatePaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.svc.InitiatePayment(r.Context(), userID, &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// Verify handles GET /api/payment/verify/{reference}: the client-triggered
// verification poll after returning from the gateway checkout.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	reference := chi.URLParam(r, "reference")
	if reference == "" {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "reference required"})
		return
	}

	result, err := h.svc.VerifyPayment(r.Context(), userID, reference)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, result)
}

// GetSubscription handles GET /api/payment/subscription.
func (h *PaymentHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	sub, err := h.svc.GetCurrentSubscription(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, sub)
}

// ListTransactions handles GET /api/payment/transactions.
func (h *PaymentHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	txs, err := h.svc.ListTransactions(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, txs)
}
