package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/congregate/congregate/internal/platform/httpx"
	"github.com/congregate/congregate/internal/shared"
)

const maxRoleUpdates = 500

// Handler serves the role and permission console API.
type Handler struct {
	logger  *slog.Logger
	catalog *Catalog
	roles   *RoleStore
	gateway Gateway
	audit   shared.AuditRecorder
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, catalog *Catalog, roles *RoleStore, gateway Gateway, audit shared.AuditRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	return &Handler{logger: logger, catalog: catalog, roles: roles, gateway: gateway, audit: audit}
}

// MountPermissionRoutes registers /permissions routes.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.With(h.gateway.Require(AnyRole(RoleAdmin, RoleStaff))).Get("/", h.listPermissions)
}

// MountRoleRoutes registers /roles routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.With(h.gateway.Require(AnyRole(RoleAdmin, RoleStaff))).Get("/permissions", h.listRolePermissions)
	r.With(h.gateway.Require(AdminOnly())).Put("/permissions", h.replaceRolePermissions)
}

// MountUserRoleRoutes registers the bulk role assignment route under /users.
func (h *Handler) MountUserRoleRoutes(r chi.Router) {
	r.With(h.gateway.Require(AdminOnly())).Put("/roles", h.updateUserRoles)
}

// MountAuthRoutes registers diagnostic routes under /auth.
func (h *Handler) MountAuthRoutes(r chi.Router) {
	r.With(h.gateway.Require(Authenticated())).Get("/check-role", h.checkRole)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "list permissions", err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	var (
		perms  []Permission
		grants []RoleGrant
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		perms, err = h.catalog.ListPermissions(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		grants, err = h.catalog.ListRolePermissions(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		httpx.LogAndRespond(h.logger, w, r, "list role permissions", err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"permissions":     perms,
		"rolePermissions": grants,
	})
}

type replaceRequest struct {
	RolePermissions []GrantUpdate `json:"rolePermissions"`
}

func (h *Handler) replaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grants, err := h.catalog.ReplaceMany(r.Context(), req.RolePermissions)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "replace role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rolePermissions": grants})
}

type roleAssignment struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Role      string `json:"role"`
}

func (a roleAssignment) accountID() string {
	if a.ID != "" {
		return a.ID
	}
	return a.AccountID
}

type roleUpdateRequest struct {
	Users []roleAssignment `json:"users"`
}

// RoleUpdateResult reports the outcome of one role assignment.
type RoleUpdateResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) updateUserRoles(w http.ResponseWriter, r *http.Request) {
	var req roleUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if len(req.Users) == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: users list required", shared.ErrValidation))
		return
	}
	if len(req.Users) > maxRoleUpdates {
		httpx.RespondError(w, fmt.Errorf("%w: at most %d users per request", shared.ErrValidation, maxRoleUpdates))
		return
	}

	ctx := r.Context()
	results := make([]RoleUpdateResult, 0, len(req.Users))
	failed := 0
	for _, item := range req.Users {
		id := item.accountID()
		err := h.roles.SetRole(ctx, id, item.Role)
		if err != nil {
			failed++
			results = append(results, RoleUpdateResult{ID: id, Success: false, Message: h.roleUpdateMessage(r, id, err)})
			continue
		}
		results = append(results, RoleUpdateResult{ID: id, Success: true})
		if err := h.audit.Record(ctx, shared.AuditLog{
			Action:   "rbac.role.set",
			Entity:   "user",
			EntityID: id,
			Meta:     map[string]any{"role": item.Role},
		}); err != nil {
			h.logger.Warn("audit role update", slog.String("account_id", id), slog.Any("error", err))
		}
	}

	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, map[string]any{"results": results})
}

func (h *Handler) roleUpdateMessage(r *http.Request, id string, err error) string {
	switch {
	case errors.Is(err, ErrLastAdmin):
		return "at least one admin must remain"
	case errors.Is(err, shared.ErrInvalidRole):
		return "invalid role"
	case errors.Is(err, shared.ErrNotFound):
		return "account not found"
	default:
		h.logger.Error("set role", slog.String("path", r.URL.Path), slog.String("account_id", id), slog.Any("error", err))
		return "could not update role"
	}
}

func (h *Handler) checkRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"email":     principal.Email,
		"role":      principal.Role,
		"accountId": principal.AccountID,
	})
}
