package payment

import "context"

// VerifyStatus is the gateway's view of a transaction.
type VerifyStatus string

const (
	VerifySuccess VerifyStatus = "success"
	VerifyFailed  VerifyStatus = "failed"
	// VerifyPending covers gateway states that are not final yet (the shopper
	// may still be on the checkout page). The transaction must stay open.
	VerifyPending VerifyStatus = "pending"
)

// InitializeRequest carries the local transaction intent to the gateway.
type InitializeRequest struct {
	Reference   string
	Email       string
	AmountMinor int64
	Currency    string
	PlanType    string
	CallbackURL string
}

// InitializeResponse is the checkout session created by the gateway.
type InitializeResponse struct {
	AuthorizationURL string
	AccessCode       string
}

// VerifyResult is the gateway's answer to a verification query.
type VerifyResult struct {
	Status            VerifyStatus
	GatewayTxID       string
	AmountMinor       int64
	Currency          string
	AuthorizationCode string
}

// Gateway defines the interface for payment providers.
type Gateway interface {
	// Initialize creates a checkout session for a transaction. Never retried
	// automatically: a failed initialize means a fresh reference.
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error)
	// Verify queries the gateway by reference. Read-only and safe to retry.
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
	// VerifySignature verifies the webhook signature over the raw request body.
	VerifySignature(payload []byte, signature string) bool
}

// MockGateway is a dummy implementation for testing and local development.
type MockGateway struct {
	VerifyResults map[string]*VerifyResult
}

func NewMockGateway() *MockGateway {
	return &MockGateway{VerifyResults: make(map[string]*VerifyResult)}
}

func (g *MockGateway) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	return &InitializeResponse{
		AuthorizationURL: "https://checkout.example.com/pay/" + req.Reference,
		AccessCode:       "mock_" + req.Reference,
	}, nil
}

func (g *MockGateway) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	if res, ok := g.VerifyResults[reference]; ok {
		return res, nil
	}
	return &VerifyResult{Status: VerifyPending}, nil
}

func (g *MockGateway) VerifySignature(payload []byte, signature string) bool {
	return true
}
