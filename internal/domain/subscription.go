package domain

import "time"

// Subscription tiers stored on the user record.
const (
	SubscriptionFree    = "free"
	SubscriptionPremium = "premium"
)

// Subscription is the snapshot of a user's subscription state. It lives on
// the user record and is mutated only by the reconciliation engine.
type Subscription struct {
	Type        string     `json:"subscriptionType"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the subscription grants premium access at t.
func (s Subscription) Active(t time.Time) bool {
	if s.Type != SubscriptionPremium {
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(t)
}
