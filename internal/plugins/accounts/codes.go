package accounts

import (
	"fmt"
	"net/http"
)

// Code classifies provider failures. The set is closed: every error leaving
// this package carries one of these codes, and each maps to a fixed
// user-facing message. Unknown codes fall back to a generic message.
type Code string

const (
	CodeEmailInUse          Code = "email-in-use"
	CodeInvalidEmail        Code = "invalid-email"
	CodeWeakPassword        Code = "weak-password"
	CodeUserDisabled        Code = "user-disabled"
	CodeUserNotFound        Code = "user-not-found"
	CodeWrongPassword       Code = "wrong-password"
	CodeTooManyRequests     Code = "too-many-requests"
	CodeNetworkFailure      Code = "network-failure"
	CodeRequiresRecentLogin Code = "requires-recent-login"
)

// messages is the fixed code-to-message table shown to users.
var messages = map[Code]string{
	CodeEmailInUse:          "This email is already registered",
	CodeInvalidEmail:        "Invalid email address",
	CodeWeakPassword:        "Password must be at least 6 characters",
	CodeUserDisabled:        "This account has been disabled",
	CodeUserNotFound:        "User not found",
	CodeWrongPassword:       "Incorrect password",
	CodeTooManyRequests:     "Too many attempts. Try again later",
	CodeNetworkFailure:      "Network error. Check your connection",
	CodeRequiresRecentLogin: "Please sign in again",
}

// Message returns the user-facing message for the code, or the generic
// fallback for anything outside the closed set.
func (c Code) Message() string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return "Unknown error. Please try again."
}

// HTTPStatus returns the response status a handler should use for the code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeEmailInUse:
		return http.StatusConflict
	case CodeInvalidEmail, CodeWeakPassword:
		return http.StatusUnprocessableEntity
	case CodeUserNotFound, CodeWrongPassword, CodeRequiresRecentLogin:
		return http.StatusUnauthorized
	case CodeUserDisabled:
		return http.StatusForbidden
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeNetworkFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ProviderError is the error type for all provider failures. The Internal
// error is for logging only; clients see Code.Message().
type ProviderError struct {
	Code     Code
	Internal error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Code, e.Code.Message(), e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Code.Message())
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Internal
}

// NewProviderError creates a ProviderError with the given code and optional
// underlying cause.
func NewProviderError(code Code, internal error) *ProviderError {
	return &ProviderError{Code: code, Internal: internal}
}
