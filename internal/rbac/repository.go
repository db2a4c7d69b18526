package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congregate/congregate/internal/platform/db"
	"github.com/congregate/congregate/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles and grants.
type Repository struct {
	pool *pgxpool.Pool
}

var (
	_ RoleRepository    = (*Repository)(nil)
	_ CatalogRepository = (*Repository)(nil)
)

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindMemberByEmail loads the account role by email.
func (r *Repository) FindMemberByEmail(ctx context.Context, email string) (Member, error) {
	var m Member
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, role
		FROM users
		WHERE lower(email) = lower($1)
	`, email).Scan(&m.ID, &m.Email, &m.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, shared.ErrNotFound
		}
		return Member{}, err
	}
	return m, nil
}

// InsertMember creates a placeholder account row for a first login.
func (r *Repository) InsertMember(ctx context.Context, nm NewMember) (Member, error) {
	var m Member
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, id_number, first_names, last_names, email, role, password_hash)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, lower($5), $6, '!external')
		RETURNING id::text, email, role
	`, nm.ID, nm.IDNumber, nm.FirstNames, nm.LastNames, nm.Email, nm.Role).Scan(&m.ID, &m.Email, &m.Role)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Member{}, fmt.Errorf("%w: %s", shared.ErrDuplicate, db.ConstraintName(err))
		}
		return Member{}, err
	}
	return m, nil
}

// UpdateRole sets the role of exactly one account and refuses to demote the
// last admin.
func (r *Repository) UpdateRole(ctx context.Context, id string, role Role) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Admin rows are locked first and in id order so concurrent demotions serialise.
		var admins int
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM (SELECT id FROM users WHERE role = 'admin' ORDER BY id FOR UPDATE) a
		`).Scan(&admins); err != nil {
			return err
		}
		var current Role
		err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1::uuid FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidInput(err) {
			return shared.ErrNotFound
		}
		if err != nil {
			return err
		}
		if current == RoleAdmin && role != RoleAdmin && admins <= 1 {
			return ErrLastAdmin
		}
		_, err = tx.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1::uuid`, id, role)
		return err
	})
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListGrants returns stored grants keyed by role.
func (r *Repository) ListGrants(ctx context.Context) (map[Role][]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT rp.role, rp.permission_id
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		ORDER BY rp.role, p.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	grants := make(map[Role][]uuid.UUID)
	for rows.Next() {
		var (
			role Role
			id   uuid.UUID
		)
		if err := rows.Scan(&role, &id); err != nil {
			return nil, err
		}
		grants[role] = append(grants[role], id)
	}
	return grants, rows.Err()
}

// PermissionNamesForRole returns the permission names stored for role.
func (r *Repository) PermissionNamesForRole(ctx context.Context, role Role) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role = $1
	`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ReplaceGrants deletes and re-inserts the grants of each role inside one
// transaction, so readers never observe an empty set mid-replace.
func (r *Repository) ReplaceGrants(ctx context.Context, grants map[Role][]uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for role, ids := range grants {
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role = $1`, role); err != nil {
				return err
			}
			if len(ids) == 0 {
				continue
			}
			raw := make([]string, len(ids))
			for i, id := range ids {
				raw[i] = id.String()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role, permission_id)
				SELECT $1, unnest($2::uuid[])
				ON CONFLICT (role, permission_id) DO NOTHING
			`, role, raw); err != nil {
				if db.IsCheckViolation(err) {
					return ErrAdminImplicit
				}
				if db.IsForeignKeyViolation(err) {
					return fmt.Errorf("%w: permission removed concurrently", shared.ErrInvalidPermission)
				}
				return err
			}
		}
		return nil
	})
}

// UpsertPermission inserts or refreshes a permission by name.
func (r *Repository) UpsertPermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, name, description
	`, name, description).Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}
