package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims mirrors the access token issued by the provider. Its "role" claim is the
// provider's database role, not the application role, and is never read.
type claims struct {
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens signed with the provider's JWT secret.
type TokenVerifier struct {
	secret   []byte
	audience string
	leeway   time.Duration
}

// NewTokenVerifier builds a verifier. audience may be empty to skip the aud check.
func NewTokenVerifier(secret, audience string) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: jwt secret is required")
	}
	return &TokenVerifier{secret: []byte(secret), audience: audience, leeway: 5 * time.Second}, nil
}

// VerifySession validates the token and returns the identity bound to it.
func (v *TokenVerifier) VerifySession(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if c.Subject == "" || email == "" {
		return Identity{}, fmt.Errorf("%w: subject and email required", ErrInvalidToken)
	}
	ident := Identity{Subject: c.Subject, Email: email, Metadata: c.UserMetadata}
	if c.ExpiresAt != nil {
		ident.ExpiresAt = c.ExpiresAt.Time
	}
	return ident, nil
}

// SignTestToken issues a token the verifier accepts. Used by tests and local tooling.
func (v *TokenVerifier) SignTestToken(subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		c.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
