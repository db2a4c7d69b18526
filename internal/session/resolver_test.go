package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/shared"
)

func newTestResolver(t *testing.T) (*Resolver, *identity.TokenVerifier, *Revocations, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	verifier, err := identity.NewTokenVerifier("secret", "")
	require.NoError(t, err)
	revocations := NewRevocations(client, time.Hour)
	return NewResolver(verifier, revocations, ""), verifier, revocations, mr
}

func TestResolveIdentityBearerBeforeCookie(t *testing.T) {
	resolver, verifier, _, _ := newTestResolver(t)
	bearer, err := verifier.SignTestToken("sub-bearer", "bearer@example.com", time.Minute)
	require.NoError(t, err)
	cookie, err := verifier.SignTestToken("sub-cookie", "cookie@example.com", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: cookie})

	ident, err := resolver.ResolveIdentity(req)
	require.NoError(t, err)
	assert.Equal(t, "bearer@example.com", ident.Email)
	assert.Equal(t, SourceBearer, ident.Source)
	assert.Equal(t, bearer, ident.Token)
}

func TestResolveIdentityFromCookie(t *testing.T) {
	resolver, verifier, _, _ := newTestResolver(t)
	token, err := verifier.SignTestToken("sub-1", "member@example.com", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
	req.AddCookie(&http.Cookie{Name: "user-role", Value: "admin"})

	ident, err := resolver.ResolveIdentity(req)
	require.NoError(t, err)
	assert.Equal(t, SourceCookie, ident.Source)
	assert.Equal(t, "sub-1", ident.Subject)
}

func TestResolveIdentityUnauthenticated(t *testing.T) {
	resolver, verifier, _, _ := newTestResolver(t)
	expired, err := verifier.SignTestToken("sub-1", "a@example.com", -time.Minute)
	require.NoError(t, err)

	cases := map[string]func(*http.Request){
		"no token":     func(*http.Request) {},
		"basic scheme": func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
		"garbage":      func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
		"expired":      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: expired}) },
		"role cookie only": func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "user-role", Value: "admin"})
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			mutate(req)
			_, err := resolver.ResolveIdentity(req)
			assert.ErrorIs(t, err, shared.ErrUnauthenticated)
		})
	}
}

func TestResolveIdentityRevoked(t *testing.T) {
	resolver, verifier, revocations, _ := newTestResolver(t)
	token, err := verifier.SignTestToken("sub-1", "a@example.com", time.Minute)
	require.NoError(t, err)
	require.NoError(t, revocations.Revoke(context.Background(), token, time.Now().Add(time.Minute)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, err = resolver.ResolveIdentity(req)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestResolveIdentityRevocationStoreDown(t *testing.T) {
	resolver, verifier, _, mr := newTestResolver(t)
	token, err := verifier.SignTestToken("sub-1", "a@example.com", time.Minute)
	require.NoError(t, err)
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, err = resolver.ResolveIdentity(req)
	assert.ErrorIs(t, err, shared.ErrUpstreamUnavailable)
	assert.False(t, errors.Is(err, shared.ErrUnauthenticated))
}

func TestRevokeExpiresWithToken(t *testing.T) {
	_, _, revocations, mr := newTestResolver(t)
	ctx := context.Background()
	require.NoError(t, revocations.Revoke(ctx, "tok", time.Now().Add(30*time.Second)))

	revoked, err := revocations.IsRevoked(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(time.Minute)
	revoked, err = revocations.IsRevoked(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeAlreadyExpiredIsNoop(t *testing.T) {
	_, _, revocations, mr := newTestResolver(t)
	require.NoError(t, revocations.Revoke(context.Background(), "tok", time.Now().Add(-time.Second)))
	assert.Empty(t, mr.Keys())
}
