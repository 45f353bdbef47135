package handler

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/eduhealth/backend/internal/domain"
	"github.com/eduhealth/backend/internal/repository"
	"github.com/eduhealth/backend/internal/service"
)

// signatureHeader is set by Paystack on every webhook delivery.
const signatureHeader = "X-Paystack-Signature"

const maxWebhookBody = 1 << 20

// signatureVerifier checks a webhook signature over the raw request body.
type signatureVerifier interface {
	VerifySignature(payload []byte, signature string) bool
}

// reconciler is the engine entry point the receiver hands parsed events to.
type reconciler interface {
	Reconcile(ctx context.Context, sig service.GatewaySignal) (*domain.ReconcileResult, error)
}

// WebhookHandler receives asynchronous payment notifications from the
// gateway. Delivery is at-least-once and unordered; everything it forwards
// goes through the engine's idempotent reconcile.
type WebhookHandler struct {
	verifier signatureVerifier
	engine   reconciler
	events   repository.WebhookEventRepository
}

// NewWebhookHandler creates a new WebhookHandler. events is optional.
func NewWebhookHandler(verifier signatureVerifier, engine reconciler, events repository.WebhookEventRepository) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		engine:   engine,
		events:   events,
	}
}

// paystackEvent is the subset of the webhook payload this service consumes.
type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID            int64  `json:"id"`
		Reference     string `json:"reference"`
		Status        string `json:"status"`
		Amount        int64  `json:"amount"`
		Currency      string `json:"currency"`
		Authorization struct {
			AuthorizationCode string `json:"authorization_code"`
		} `json:"authorization"`
	} `json:"data"`
}

// HandlePaystack handles POST /api/payment/webhook.
func (h *WebhookHandler) HandlePaystack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	// The signature is checked over the raw body before any parsing; a forged
	// or unsigned delivery never reaches the reconciliation engine.
	if !h.verifier.VerifySignature(body, r.Header.Get(signatureHeader)) {
		log.Printf("[Webhook] rejected delivery with invalid signature from %s", r.RemoteAddr)
		JSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
		return
	}

	var event paystackEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("[Webhook] malformed payload: %v", err)
		JSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	var outcome domain.Outcome
	switch event.Event {
	case "charge.success":
		outcome = domain.OutcomeVerified
	case "charge.failed":
		outcome = domain.OutcomeFailed
	default:
		// Other event families are acknowledged but carry no outcome for us.
		h.record(r.Context(), event, "ignored")
		JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if event.Data.Reference == "" {
		log.Printf("[Webhook] %s delivery without reference", event.Event)
		JSON(w, http.StatusBadRequest, map[string]string{"error": "missing reference"})
		return
	}

	result, err := h.engine.Reconcile(r.Context(), service.GatewaySignal{
		Reference:         event.Data.Reference,
		Outcome:           outcome,
		GatewayTxID:       strconv.FormatInt(event.Data.ID, 10),
		AuthorizationCode: event.Data.Authorization.AuthorizationCode,
	})
	if err != nil {
		if appErr, ok := domain.AsAppError(err); ok && appErr.Code == http.StatusNotFound {
			// A reference we never issued: no record is created for it, but
			// redelivery can never succeed either, so acknowledge.
			log.Printf("[Webhook] %s for unknown reference %s", event.Event, event.Data.Reference)
			h.record(r.Context(), event, "unknown-reference")
			JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		// Internal failure: let the gateway redeliver.
		log.Printf("[Webhook] reconcile failed for %s: %v", event.Data.Reference, err)
		JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	// Duplicate deliveries land here with applied=false; the gateway only
	// needs the ack to stop retrying.
	if result.Applied {
		h.record(r.Context(), event, "applied:"+string(result.FinalStatus))
	} else {
		h.record(r.Context(), event, "duplicate:"+string(result.FinalStatus))
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) record(ctx context.Context, event paystackEvent, result string) {
	if h.events == nil {
		return
	}
	if err := h.events.Record(ctx, event.Event, event.Data.Reference, result); err != nil {
		log.Printf("[Webhook] failed to record event: %v", err)
	}
}
