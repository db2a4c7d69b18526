package shared

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

const (
	// CSRFHeader is the request header carrying the CSRF token.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager issues and verifies CSRF tokens bound to a session token.
// Tokens are derived, not stored: the same session token always yields the same CSRF token.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// Token returns the CSRF token for the given session token.
func (m *CSRFManager) Token(sessionToken string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte("csrf|"))
	_, _ = mac.Write([]byte(sessionToken))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyToken compares the supplied token with the one derived from the session token.
func (m *CSRFManager) VerifyToken(sessionToken, token string) error {
	if sessionToken == "" || token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(m.Token(sessionToken)), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}
