package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/congregate/congregate/internal/platform/httpx"
	"github.com/congregate/congregate/internal/rbac"
	"github.com/congregate/congregate/internal/session"
	"github.com/congregate/congregate/internal/shared"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	sessions  rbac.IdentityResolver
	csrf      *shared.CSRFManager
	cookie    CookieConfig
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions rbac.IdentityResolver, csrf *shared.CSRFManager, cookie CookieConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		sessions:  sessions,
		csrf:      csrf,
		cookie:    cookie,
		rateLimit: httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rateLimit).Post("/login", h.handleLogin)
	r.With(h.rateLimit).Post("/register", h.handleRegister)
	r.Post("/logout", h.handleLogout)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Login(r.Context(), req)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "login", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	h.logger.Info("login", slog.String("account_id", res.Member.ID), slog.String("role", string(res.Member.Role)))
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user":      SessionUser{ID: res.Member.ID, Email: res.Member.Email, Role: res.Member.Role},
		"csrfToken": h.csrf.Token(res.Token),
		"expiresAt": res.ExpiresAt,
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.Register(r.Context(), req)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"user": account})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ident, err := h.sessions.ResolveIdentity(r)
	if errors.Is(err, shared.ErrUnauthenticated) {
		h.clearCookie(w)
		httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "logout", err)
		return
	}
	if ident.Source == session.SourceCookie {
		if err := h.csrf.VerifyToken(ident.Token, r.Header.Get(shared.CSRFHeader)); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	h.clearCookie(w)
	if err := h.service.Logout(r.Context(), ident); err != nil {
		httpx.LogAndRespond(h.logger, w, r, "logout", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
