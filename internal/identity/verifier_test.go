package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySessionAcceptsSignedToken(t *testing.T) {
	v, err := NewTokenVerifier("jwt-secret", "authenticated")
	require.NoError(t, err)

	token, err := v.SignTestToken("sub-1", "Ana@Example.com", time.Minute)
	require.NoError(t, err)

	ident, err := v.VerifySession(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", ident.Subject)
	assert.Equal(t, "ana@example.com", ident.Email)
	assert.False(t, ident.ExpiresAt.IsZero())
}

func TestVerifySessionRejects(t *testing.T) {
	v, err := NewTokenVerifier("jwt-secret", "authenticated")
	require.NoError(t, err)
	other, err := NewTokenVerifier("other-secret", "authenticated")
	require.NoError(t, err)
	wrongAud, err := NewTokenVerifier("jwt-secret", "service")
	require.NoError(t, err)

	expired, err := v.SignTestToken("sub-1", "a@example.com", -time.Minute)
	require.NoError(t, err)
	forged, err := other.SignTestToken("sub-1", "a@example.com", time.Minute)
	require.NoError(t, err)
	audience, err := wrongAud.SignTestToken("sub-1", "a@example.com", time.Minute)
	require.NoError(t, err)
	noEmail, err := v.SignTestToken("sub-1", "", time.Minute)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "sub-1", "email": "a@example.com", "aud": "authenticated",
	}).SignedString([]byte("jwt-secret"))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "sub-1", "email": "a@example.com", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-token",
		"expired":        expired,
		"wrong secret":   forged,
		"wrong audience": audience,
		"missing email":  noEmail,
		"missing exp":    noExp,
		"alg none":       none,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.VerifySession(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifySessionCanceledContext(t *testing.T) {
	v, err := NewTokenVerifier("jwt-secret", "")
	require.NoError(t, err)
	token, err := v.SignTestToken("sub-1", "a@example.com", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.VerifySession(ctx, token)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewTokenVerifierRequiresSecret(t *testing.T) {
	_, err := NewTokenVerifier("  ", "")
	assert.Error(t, err)
}
