package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/platform/httpx"
	"github.com/congregate/congregate/internal/session"
	"github.com/congregate/congregate/internal/shared"
)

// IdentityResolver resolves the verified identity of a request.
type IdentityResolver interface {
	ResolveIdentity(r *http.Request) (session.Identity, error)
}

// MemberResolver maps a verified identity to its stored account and role.
type MemberResolver interface {
	Resolve(ctx context.Context, ident identity.Identity) (Member, error)
}

// Authorizer decides a requirement for a role.
type Authorizer interface {
	Authorize(ctx context.Context, role Role, req Requirement) (Decision, error)
}

// DecisionObserver records authorization outcomes.
type DecisionObserver interface {
	ObserveDecision(requirement, decision string)
}

// Gateway is the one enforcement path for protected routes. Every role it acts
// on is read from the account store for the verified session; nothing the
// client sends besides the session token is consulted.
type Gateway struct {
	Sessions  IdentityResolver
	Members   MemberResolver
	Evaluator Authorizer
	CSRF      *shared.CSRFManager
	Logger    *slog.Logger
	Metrics   DecisionObserver
}

// Require guards next with req. On allow the Principal and audit Actor are
// placed in the request context.
func (g Gateway) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := g.authorize(r, req)
			if err != nil {
				g.reject(w, r, req, err)
				return
			}
			ctx := ContextWithPrincipal(r.Context(), principal)
			ctx = shared.ContextWithActor(ctx, shared.Actor{AccountID: principal.AccountID, Email: principal.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g Gateway) authorize(r *http.Request, req Requirement) (Principal, error) {
	ident, err := g.Sessions.ResolveIdentity(r)
	if err != nil {
		return Principal{}, err
	}
	if ident.Source == session.SourceCookie && isMutating(r.Method) && g.CSRF != nil {
		if err := g.CSRF.VerifyToken(ident.Token, r.Header.Get(shared.CSRFHeader)); err != nil {
			return Principal{}, err
		}
	}
	ctx := r.Context()
	member, err := g.Members.Resolve(ctx, ident.Identity)
	if err != nil {
		if errors.Is(err, shared.ErrUnauthenticated) {
			return Principal{}, err
		}
		// Store failures must never surface as a client error class.
		return Principal{}, fmt.Errorf("%w: resolve role: %v", shared.ErrUpstreamUnavailable, err)
	}
	decision, err := g.Evaluator.Authorize(ctx, member.Role, req)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: authorize: %v", shared.ErrUpstreamUnavailable, err)
	}
	g.observe(req, decision)
	if decision != Allow {
		return Principal{}, fmt.Errorf("%w: role %s lacks %s", shared.ErrForbidden, member.Role, req)
	}
	return Principal{AccountID: member.ID, Email: member.Email, Role: member.Role, Identity: ident}, nil
}

func (g Gateway) reject(w http.ResponseWriter, r *http.Request, req Requirement, err error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if status := httpx.StatusFor(err); status == http.StatusForbidden {
		logger.Info("authorization denied",
			slog.String("path", r.URL.Path),
			slog.String("requirement", req.String()),
			slog.Any("error", err))
	}
	httpx.LogAndRespond(logger, w, r, "authorization failed", err)
}

func (g Gateway) observe(req Requirement, decision Decision) {
	if g.Metrics != nil {
		g.Metrics.ObserveDecision(req.String(), decision.String())
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
