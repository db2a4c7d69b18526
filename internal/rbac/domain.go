package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/congregate/congregate/internal/session"
	"github.com/congregate/congregate/internal/shared"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
	RoleUsuario Role = "usuario"
)

// DefaultRole is assigned to accounts created on first login.
const DefaultRole = RoleUsuario

// ErrAdminImplicit rejects attempts to store grants for the admin role.
var ErrAdminImplicit = fmt.Errorf("%w: admin permissions are implicit and cannot be edited", shared.ErrInvalidRole)

// ErrLastAdmin rejects a role change that would leave no admin account.
var ErrLastAdmin = fmt.Errorf("%w: at least one admin must remain", shared.ErrValidation)

// ErrMemberConflict means a verified identity collides with an account that
// is registered under a different email.
var ErrMemberConflict = errors.New("rbac: identity collides with an existing account")

// AllRoles lists every role in display order.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleStaff, RoleUsuario}
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleUsuario:
		return true
	}
	return false
}

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleStaff:
		return 2
	case RoleUsuario:
		return 1
	}
	return 0
}

// Covers reports whether a caller holding r may modify an account holding
// target. Accounts with an unknown role are reserved for admin.
func (r Role) Covers(target Role) bool {
	if r == RoleAdmin {
		return true
	}
	if !r.Valid() || !target.Valid() {
		return false
	}
	return r.rank() >= target.rank()
}

// ParseRole normalises and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidRole, raw)
	}
	return role, nil
}

// Permission represents an atomic capability.
type Permission struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

// RoleGrant is the set of permission ids held by a role. Implicit grants are
// synthesised (admin) and never stored.
type RoleGrant struct {
	Role        Role        `json:"role"`
	Permissions []uuid.UUID `json:"permissions"`
	Implicit    bool        `json:"implicit"`
}

// GrantUpdate is one entry of a permission replacement request.
type GrantUpdate struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Member is the authorization-relevant slice of an account row.
type Member struct {
	ID    string
	Email string
	Role  Role
}

// NewMember is the default row inserted on first login. ID is the identity
// provider subject when it is a valid uuid.
type NewMember struct {
	ID         string
	IDNumber   string
	FirstNames string
	LastNames  string
	Email      string
	Role       Role
}

type requirementKind int

const (
	requirementNone requirementKind = iota
	requirementRoles
	requirementPermission
)

// Requirement is what a protected route demands: either a role allow-list
// (coarse gate) or a named permission.
type Requirement struct {
	kind       requirementKind
	roles      []Role
	permission string
}

// Perm requires the named permission.
func Perm(name string) Requirement {
	return Requirement{kind: requirementPermission, permission: strings.ToLower(strings.TrimSpace(name))}
}

// AnyRole requires membership in one of roles.
func AnyRole(roles ...Role) Requirement {
	return Requirement{kind: requirementRoles, roles: append([]Role(nil), roles...)}
}

// AdminOnly is the coarse gate for admin-only operations.
func AdminOnly() Requirement {
	return AnyRole(RoleAdmin)
}

// Authenticated admits any account with a valid role.
func Authenticated() Requirement {
	return AnyRole(AllRoles()...)
}

// IsZero reports whether the requirement was never initialised.
func (r Requirement) IsZero() bool {
	return r.kind == requirementNone
}

func (r Requirement) String() string {
	switch r.kind {
	case requirementPermission:
		return "perm:" + r.permission
	case requirementRoles:
		names := make([]string, len(r.roles))
		for i, role := range r.roles {
			names[i] = string(role)
		}
		return "role:" + strings.Join(names, "|")
	default:
		return "none"
	}
}

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Principal is the verified caller of a request, with its role freshly read
// from the account store.
type Principal struct {
	AccountID string
	Email     string
	Role      Role
	Identity  session.Identity
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal placed by the gateway.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
