package rbac

import (
	"context"
	"fmt"
	"slices"
)

// CatalogReader exposes the stored grants consulted by the evaluator.
type CatalogReader interface {
	PermissionNamesForRole(ctx context.Context, role Role) ([]string, error)
}

// Evaluator decides whether a role satisfies a requirement. It holds no state
// of its own; every fine-grained check reads the current catalog.
type Evaluator struct {
	catalog CatalogReader
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(catalog CatalogReader) *Evaluator {
	return &Evaluator{catalog: catalog}
}

// Authorize returns Allow or Deny. Errors mean the decision could not be made
// and must not be read as either outcome.
func (e *Evaluator) Authorize(ctx context.Context, role Role, req Requirement) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Deny, err
	}
	if req.IsZero() || !role.Valid() {
		return Deny, nil
	}
	if role == RoleAdmin {
		return Allow, nil
	}
	switch req.kind {
	case requirementRoles:
		if slices.Contains(req.roles, role) {
			return Allow, nil
		}
		return Deny, nil
	case requirementPermission:
		granted, err := e.catalog.PermissionNamesForRole(ctx, role)
		if err != nil {
			return Deny, fmt.Errorf("rbac: load grants for %s: %w", role, err)
		}
		if slices.Contains(granted, req.permission) {
			return Allow, nil
		}
		return Deny, nil
	}
	return Deny, nil
}
