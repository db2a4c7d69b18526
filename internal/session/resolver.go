// Package session resolves the verified identity behind an HTTP request.
// It never reads an application role from the request.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/shared"
)

// DefaultCookieName is the http-only cookie carrying the session token.
const DefaultCookieName = "congregate-auth"

// Source records where a token was read from.
type Source string

const (
	SourceBearer Source = "bearer"
	SourceCookie Source = "cookie"
)

// Verifier validates a session token with the identity provider.
type Verifier interface {
	VerifySession(ctx context.Context, token string) (identity.Identity, error)
}

// RevocationChecker reports whether a token was revoked by logout.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Identity is a verified identity together with the token it was derived from.
type Identity struct {
	identity.Identity
	Token  string
	Source Source
}

// Resolver extracts and verifies the session token of a request.
type Resolver struct {
	Verifier    Verifier
	Revocations RevocationChecker
	CookieName  string
}

// NewResolver constructs a Resolver. revocations may be nil.
func NewResolver(verifier Verifier, revocations RevocationChecker, cookieName string) *Resolver {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Resolver{Verifier: verifier, Revocations: revocations, CookieName: cookieName}
}

// ResolveIdentity returns the verified identity of the request. A missing,
// expired, forged or revoked token yields shared.ErrUnauthenticated; failures
// to reach the revocation store yield shared.ErrUpstreamUnavailable.
func (r *Resolver) ResolveIdentity(req *http.Request) (Identity, error) {
	token, source := r.tokenFrom(req)
	if token == "" {
		return Identity{}, shared.ErrUnauthenticated
	}
	ctx := req.Context()
	ident, err := r.Verifier.VerifySession(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return Identity{}, fmt.Errorf("%w: %v", shared.ErrUnauthenticated, err)
		}
		return Identity{}, err
	}
	if r.Revocations != nil {
		revoked, err := r.Revocations.IsRevoked(ctx, token)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: revocation lookup: %v", shared.ErrUpstreamUnavailable, err)
		}
		if revoked {
			return Identity{}, fmt.Errorf("%w: token revoked", shared.ErrUnauthenticated)
		}
	}
	return Identity{Identity: ident, Token: token, Source: source}, nil
}

// Token returns the raw token of the request without verifying it.
func (r *Resolver) Token(req *http.Request) string {
	token, _ := r.tokenFrom(req)
	return token
}

func (r *Resolver) tokenFrom(req *http.Request) (string, Source) {
	if header := req.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token := strings.TrimSpace(value); token != "" {
				return token, SourceBearer
			}
		}
	}
	name := r.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	if cookie, err := req.Cookie(name); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token, SourceCookie
		}
	}
	return "", ""
}
