// Package accounts is the identity and document provider for the chat
// widget. It owns account credentials (registration, sign-in, sessions) and
// the per-account conversation document that the quota counter increments.
//
// The rest of the application talks to it through narrow interfaces: the
// identity machine drives document bootstrap and the premium flag, the quota
// counter drives the conversation count. Provider failures surface as a
// closed set of error codes with fixed user-facing messages.
package accounts

import (
	"time"
)

// Account is a credential record. The password hash never leaves this
// package and is never serialized.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsDisabled   bool      `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountDocument is the per-account conversation document. It is created
// lazily on registration or first sign-in, mutated by every allowed turn and
// by premium upgrades, and never deleted.
type AccountDocument struct {
	AccountID         string     `json:"account_id"`
	Email             string     `json:"email"`
	ConversationCount int        `json:"conversation_count"`
	Premium           bool       `json:"premium"`
	PremiumPlan       *string    `json:"premium_plan,omitempty"`
	PremiumSince      *time.Time `json:"premium_since,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
	LastActivity      *time.Time `json:"last_activity,omitempty"`
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest holds the data submitted by the widget's sign-up form.
type RegisterRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Confirm  string `json:"confirm" form:"confirm"`
}

// LoginRequest holds the data submitted by the widget's sign-in form.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the validated input for creating a new account.
type RegisterInput struct {
	Email    string
	Password string
}

// LoginInput is the validated input for authenticating an account.
type LoginInput struct {
	Email    string
	Password string
}

// --- Session ---

// Session represents an authenticated widget session stored in Redis.
// The session token is the key, and this struct is the value (JSON-encoded).
type Session struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
