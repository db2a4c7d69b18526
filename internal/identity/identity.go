// Package identity talks to the hosted identity provider: it verifies session
// tokens and performs the administrative account operations used by member CRUD.
package identity

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates a missing, malformed, expired or wrongly signed token.
	ErrInvalidToken = errors.New("identity: invalid token")
	// ErrInvalidCredentials indicates the provider rejected an email/password pair.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrEmailNotConfirmed indicates the account exists but has not confirmed its email.
	ErrEmailNotConfirmed = errors.New("identity: email not confirmed")
	// ErrAlreadyRegistered indicates sign-up with an email the provider already knows.
	ErrAlreadyRegistered = errors.New("identity: already registered")
	// ErrAccountNotFound indicates no provider account matches.
	ErrAccountNotFound = errors.New("identity: account not found")
	// ErrUnavailable indicates the provider could not be reached or answered with a server error.
	ErrUnavailable = errors.New("identity: provider unavailable")
	// ErrAdminDisabled indicates administrative calls are not configured (no service key).
	ErrAdminDisabled = errors.New("identity: admin api not configured")
)

// Identity is the verified subject bound to a session token.
type Identity struct {
	Subject   string
	Email     string
	Metadata  map[string]any
	ExpiresAt time.Time
}

// MetadataString returns the first non-empty string metadata value among keys.
func (i Identity) MetadataString(keys ...string) string {
	for _, key := range keys {
		if v, ok := i.Metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Account is an identity-provider account as returned by the admin API.
type Account struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// NewAccount describes an account to create through the admin API.
type NewAccount struct {
	Email    string
	Password string
	Metadata map[string]any
}

// Session is the result of a successful password sign-in.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Account      Account
}
