package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/congregate/congregate/internal/shared"
)

// CatalogRepository is the persistence port of the Catalog.
type CatalogRepository interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListGrants(ctx context.Context) (map[Role][]uuid.UUID, error)
	PermissionNamesForRole(ctx context.Context, role Role) ([]string, error)
	// ReplaceGrants swaps the full grant set of every given role in one transaction.
	ReplaceGrants(ctx context.Context, grants map[Role][]uuid.UUID) error
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
}

// Catalog manages permission definitions and their assignment to roles.
type Catalog struct {
	repo   CatalogRepository
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewCatalog constructs a Catalog. audit may be nil.
func NewCatalog(repo CatalogRepository, audit shared.AuditRecorder, logger *slog.Logger) *Catalog {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{repo: repo, audit: audit, logger: logger}
}

// ListPermissions returns all permissions ordered by name.
func (c *Catalog) ListPermissions(ctx context.Context) ([]Permission, error) {
	return c.repo.ListPermissions(ctx)
}

// PermissionNamesForRole returns the names granted to role.
func (c *Catalog) PermissionNamesForRole(ctx context.Context, role Role) ([]string, error) {
	if role == RoleAdmin {
		perms, err := c.repo.ListPermissions(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(perms))
		for i, p := range perms {
			names[i] = p.Name
		}
		return names, nil
	}
	return c.repo.PermissionNamesForRole(ctx, role)
}

// ListRolePermissions returns the grants of every role. Admin is synthesised
// as holding every permission.
func (c *Catalog) ListRolePermissions(ctx context.Context) ([]RoleGrant, error) {
	perms, err := c.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := c.repo.ListGrants(ctx)
	if err != nil {
		return nil, err
	}
	all := make([]uuid.UUID, len(perms))
	for i, p := range perms {
		all[i] = p.ID
	}
	out := make([]RoleGrant, 0, len(AllRoles()))
	for _, role := range AllRoles() {
		if role == RoleAdmin {
			out = append(out, RoleGrant{Role: role, Permissions: all, Implicit: true})
			continue
		}
		ids := grants[role]
		if ids == nil {
			ids = []uuid.UUID{}
		}
		out = append(out, RoleGrant{Role: role, Permissions: ids})
	}
	return out, nil
}

// ReplaceRolePermissions replaces the full grant set of one role.
func (c *Catalog) ReplaceRolePermissions(ctx context.Context, role Role, ids []uuid.UUID) error {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	_, err := c.ReplaceMany(ctx, []GrantUpdate{{Role: string(role), Permissions: raw}})
	return err
}

// ReplaceMany validates every update before writing any, then replaces all
// targeted roles in one transaction. It returns the resulting mapping.
func (c *Catalog) ReplaceMany(ctx context.Context, updates []GrantUpdate) ([]RoleGrant, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no role permissions supplied", shared.ErrValidation)
	}
	perms, err := c.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[uuid.UUID]struct{}, len(perms))
	for _, p := range perms {
		known[p.ID] = struct{}{}
	}

	grants := make(map[Role][]uuid.UUID, len(updates))
	for _, u := range updates {
		role, err := ParseRole(u.Role)
		if err != nil {
			return nil, err
		}
		if role == RoleAdmin {
			return nil, ErrAdminImplicit
		}
		if _, dup := grants[role]; dup {
			return nil, fmt.Errorf("%w: role %s listed more than once", shared.ErrValidation, role)
		}
		ids := make([]uuid.UUID, 0, len(u.Permissions))
		seen := make(map[uuid.UUID]struct{}, len(u.Permissions))
		for _, rawID := range u.Permissions {
			id, err := uuid.Parse(strings.TrimSpace(rawID))
			if err != nil {
				return nil, fmt.Errorf("%w: %q", shared.ErrInvalidPermission, rawID)
			}
			if _, ok := known[id]; !ok {
				return nil, fmt.Errorf("%w: %s", shared.ErrInvalidPermission, id)
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		grants[role] = ids
	}

	if err := c.repo.ReplaceGrants(ctx, grants); err != nil {
		return nil, fmt.Errorf("rbac: replace grants: %w", err)
	}
	for role, ids := range grants {
		if err := c.audit.Record(ctx, shared.AuditLog{
			Action:   "rbac.permissions.replace",
			Entity:   "role",
			EntityID: string(role),
			Meta:     map[string]any{"permissions": ids},
		}); err != nil {
			c.logger.Warn("audit permission replace", slog.String("role", string(role)), slog.Any("error", err))
		}
	}
	return c.ListRolePermissions(ctx)
}

// EnsurePermission upserts a permission definition by name.
func (c *Catalog) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name required", shared.ErrValidation)
	}
	return c.repo.UpsertPermission(ctx, name, strings.TrimSpace(description))
}

// Seed ensures every definition exists.
func (c *Catalog) Seed(ctx context.Context, defs []shared.PermissionDefinition) error {
	for _, def := range defs {
		if _, err := c.EnsurePermission(ctx, def.Name, def.Description); err != nil {
			return fmt.Errorf("rbac: seed %s: %w", def.Name, err)
		}
	}
	return nil
}
