package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/eduhealth/backend/internal/domain"
)

// PaystackConfig configures the Paystack gateway client.
type PaystackConfig struct {
	SecretKey string
	BaseURL   string // https://api.paystack.co
	Timeout   time.Duration
	// Verify retry policy. Initialize is never retried.
	VerifyRetries int
	VerifyBackoff time.Duration
}

// PaystackGateway calls the Paystack REST API.
type PaystackGateway struct {
	secretKey string
	baseURL   string
	client    *http.Client
	retries   int
	backoff   time.Duration
}

// NewPaystackGateway creates a Paystack client.
func NewPaystackGateway(cfg PaystackConfig) *PaystackGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	backoff := cfg.VerifyBackoff
	if backoff == 0 {
		backoff = 500 * time.Millisecond
	}
	return &PaystackGateway{
		secretKey: cfg.SecretKey,
		baseURL:   cfg.BaseURL,
		client:    &http.Client{Timeout: timeout},
		retries:   cfg.VerifyRetries,
		backoff:   backoff,
	}
}

type initializePayload struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"` // minor units
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Channels    []string          `json:"channels,omitempty"`
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	ID            int64  `json:"id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Authorization struct {
		AuthorizationCode string `json:"authorization_code"`
	} `json:"authorization"`
}

// Initialize creates a Paystack checkout session for the transaction.
func (g *PaystackGateway) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	payload := initializePayload{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata: map[string]string{
			"plan_type": req.PlanType,
			"platform":  "eduhealth",
		},
		Channels: []string{"card", "bank", "ussd", "qr", "mobile_money", "bank_transfer"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.ErrInternal("failed to encode initialize payload", err)
	}

	env, err := g.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var data initializeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, domain.ErrGatewayUnavailable("unexpected gateway response", err)
	}
	if data.AuthorizationURL == "" {
		return nil, domain.ErrGatewayRejected("gateway returned no checkout session")
	}

	return &InitializeResponse{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
	}, nil
}

// Verify queries Paystack for the transaction with the given reference.
// Transient failures are retried with exponential backoff up to the configured
// bound before surfacing as gateway-unavailable.
func (g *PaystackGateway) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var env *apiEnvelope
	var err error

	for attempt := 0; ; attempt++ {
		env, err = g.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
		if err == nil {
			break
		}
		appErr, ok := domain.AsAppError(err)
		if !ok || appErr.Code != http.StatusServiceUnavailable || attempt >= g.retries {
			return nil, err
		}

		wait := g.backoff * (1 << attempt)
		log.Printf("[Paystack] verify %s attempt %d failed, retrying in %s: %v", reference, attempt+1, wait, err)
		select {
		case <-ctx.Done():
			return nil, domain.ErrGatewayUnavailable("verification canceled", ctx.Err())
		case <-time.After(wait):
		}
	}

	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, domain.ErrGatewayUnavailable("unexpected gateway response", err)
	}

	res := &VerifyResult{
		GatewayTxID:       strconv.FormatInt(data.ID, 10),
		AmountMinor:       data.Amount,
		Currency:          data.Currency,
		AuthorizationCode: data.Authorization.AuthorizationCode,
	}
	switch data.Status {
	case "success":
		res.Status = VerifySuccess
	case "failed", "reversed":
		res.Status = VerifyFailed
	default:
		// "pending", "ongoing", "abandoned": the charge has not settled.
		res.Status = VerifyPending
	}
	return res, nil
}

// VerifySignature checks the X-Paystack-Signature header: HMAC-SHA512 of the
// raw request body keyed with the secret key.
func (g *PaystackGateway) VerifySignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(g.Sign(payload)), []byte(signature))
}

// Sign computes the webhook signature for a payload. Exposed for tests and
// local webhook simulation.
func (g *PaystackGateway) Sign(payload []byte) string {
	mac := hmac.New(sha512.New, []byte(g.secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *PaystackGateway) do(ctx context.Context, method, path string, body io.Reader) (*apiEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, domain.ErrInternal("failed to build gateway request", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, domain.ErrGatewayUnavailable("gateway unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.ErrGatewayUnavailable("failed to read gateway response", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, domain.ErrGatewayUnavailable(fmt.Sprintf("gateway error (%d)", resp.StatusCode), nil)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.ErrGatewayUnavailable("invalid gateway response", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("gateway rejected request (%d)", resp.StatusCode)
		}
		return nil, domain.ErrGatewayRejected(msg)
	}

	return &env, nil
}
