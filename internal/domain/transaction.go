package domain

import "time"

// TxStatus is the lifecycle state of a payment transaction.
type TxStatus string

const (
	TxInitialized TxStatus = "initialized"
	TxPending     TxStatus = "pending"
	TxVerified    TxStatus = "verified"
	TxFailed      TxStatus = "failed"
	TxExpired     TxStatus = "expired"
)

// Final reports whether the status is terminal. Once a transaction is
// verified, failed, or expired no further transition is permitted.
func (s TxStatus) Final() bool {
	return s == TxVerified || s == TxFailed || s == TxExpired
}

// Outcome is a confirmed gateway result for a transaction, delivered by
// webhook or by a client-triggered verification poll.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeFailed   Outcome = "failed"
)

// Status returns the transaction status the outcome finalizes to.
func (o Outcome) Status() TxStatus {
	if o == OutcomeVerified {
		return TxVerified
	}
	return TxFailed
}

// Transaction represents one payment attempt. The reference is generated
// locally before the gateway call and correlates local state with gateway
// callbacks; a retry always gets a fresh reference.
type Transaction struct {
	Reference   string     `json:"reference"`
	UserID      string     `json:"userId"`
	PlanType    string     `json:"planType"`
	AmountMinor int64      `json:"amount"` // minor units (ZAR cents)
	Currency    string     `json:"currency"`
	Status      TxStatus   `json:"status"`
	GatewayTxID *string    `json:"gatewayTxId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
}

// InitiatePaymentRequest is the input for starting a payment.
type InitiatePaymentRequest struct {
	PlanType string `json:"planType" validate:"required,oneof=monthly annual"`
}

// InitiatePaymentResponse returns the gateway redirect for a new transaction.
type InitiatePaymentResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorizationUrl"`
	AmountMinor      int64  `json:"amount"`
	Currency         string `json:"currency"`
}

// ReconcileResult reports what a reconciliation pass did.
type ReconcileResult struct {
	FinalStatus           TxStatus `json:"finalStatus"`
	Applied               bool     `json:"applied"`
	SubscriptionActivated bool     `json:"subscriptionActivated"`
}

// PaymentEvent is pushed to connected clients when a transaction settles.
type PaymentEvent struct {
	Reference string   `json:"reference"`
	Status    TxStatus `json:"status"`
	PlanType  string   `json:"planType"`
}
