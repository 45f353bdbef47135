package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the account record. The subscription fields are owned by the
// reconciliation engine; nothing else writes them.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Password          string     `json:"-"`
	Role              string     `json:"role"`
	SubscriptionType  string     `json:"subscriptionType"`
	ActivatedAt       *time.Time `json:"activatedAt,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	CardAuthorization *string    `json:"-"` // encrypted at rest
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Subscription returns the user's subscription snapshot.
func (u *User) Subscription() Subscription {
	return Subscription{
		Type:        u.SubscriptionType,
		ActivatedAt: u.ActivatedAt,
		ExpiresAt:   u.ExpiresAt,
	}
}

// NewUserID generates a new unique user ID.
func NewUserID() string {
	return uuid.New().String()
}

// LoginRequest is the input for authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginUser is the user payload returned on login.
type LoginUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token string    `json:"token"`
	User  LoginUser `json:"user"`
}

// JWTClaims carries the verified identity of a request.
type JWTClaims struct {
	Sub   string
	Email string
	Role  string
}

// UserResponse is the admin-facing user listing payload.
type UserResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	SubscriptionType string    `json:"subscriptionType"`
	CreatedAt        time.Time `json:"createdAt"`
}
