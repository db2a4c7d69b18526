package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congregate/congregate/internal/platform/db"
	"github.com/congregate/congregate/internal/shared"
)

// Repository defines account persistence.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Account, int, error)
	Get(ctx context.Context, id uuid.UUID) (Account, error)
	FindByIDNumber(ctx context.Context, idNumber string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	Insert(ctx context.Context, in AccountInput, passwordHash string) (Account, error)
	Update(ctx context.Context, id uuid.UUID, in AccountInput) (Account, error)
	Delete(ctx context.Context, id uuid.UUID) (Account, error)
	// UpsertByIDNumber inserts or updates by id number, reporting whether a row was created.
	UpsertByIDNumber(ctx context.Context, in AccountInput, passwordHash string) (Account, bool, error)
}

var _ Repository = (*pgRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const accountColumns = `id, id_number, first_names, last_names, email, phone, address,
	whatsapp, baptism_date, baptized, role, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.IDNumber, &a.FirstNames, &a.LastNames, &a.Email, &a.Phone, &a.Address,
		&a.WhatsApp, &a.BaptismDate, &a.Baptized, &a.Role, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Account, int, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	search := strings.TrimSpace(filter.Search)
	where := ""
	args := []any{}
	if search != "" {
		where = `WHERE first_names ILIKE $1 OR last_names ILIKE $1 OR id_number ILIKE $1 OR email ILIKE $1`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		accountColumns, where, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	accounts := []Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	return accounts, total, rows.Err()
}

func (r *pgRepository) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id))
}

func (r *pgRepository) FindByIDNumber(ctx context.Context, idNumber string) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id_number = $1`, idNumber))
}

func (r *pgRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (r *pgRepository) Insert(ctx context.Context, in AccountInput, passwordHash string) (Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `
		INSERT INTO users (id, id_number, first_names, last_names, email, phone, address, whatsapp, baptism_date, baptized, password_hash)
		VALUES (COALESCE($11::uuid, gen_random_uuid()), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+accountColumns,
		in.IDNumber, in.FirstNames, in.LastNames, in.Email, in.Phone, in.Address, in.WhatsApp, in.BaptismDate, in.Baptized, passwordHash, optionalID(in.ID)))
	return a, mapWriteError(err)
}

func (r *pgRepository) Update(ctx context.Context, id uuid.UUID, in AccountInput) (Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `
		UPDATE users
		SET id_number = $2, first_names = $3, last_names = $4, email = $5, phone = $6, address = $7,
		    whatsapp = $8, baptism_date = $9, baptized = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns,
		id, in.IDNumber, in.FirstNames, in.LastNames, in.Email, in.Phone, in.Address, in.WhatsApp, in.BaptismDate, in.Baptized))
	return a, mapWriteError(err)
}

func (r *pgRepository) Delete(ctx context.Context, id uuid.UUID) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `DELETE FROM users WHERE id = $1 RETURNING `+accountColumns, id))
}

func (r *pgRepository) UpsertByIDNumber(ctx context.Context, in AccountInput, passwordHash string) (Account, bool, error) {
	var (
		a        Account
		inserted bool
	)
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id_number, first_names, last_names, email, phone, address, whatsapp, baptism_date, baptized, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id_number) DO UPDATE
		SET first_names = EXCLUDED.first_names,
		    last_names = EXCLUDED.last_names,
		    email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    address = EXCLUDED.address,
		    whatsapp = EXCLUDED.whatsapp,
		    baptism_date = EXCLUDED.baptism_date,
		    baptized = EXCLUDED.baptized,
		    updated_at = NOW()
		RETURNING `+accountColumns+`, (xmax = 0)`,
		in.IDNumber, in.FirstNames, in.LastNames, in.Email, in.Phone, in.Address, in.WhatsApp, in.BaptismDate, in.Baptized, passwordHash,
	).Scan(&a.ID, &a.IDNumber, &a.FirstNames, &a.LastNames, &a.Email, &a.Phone, &a.Address,
		&a.WhatsApp, &a.BaptismDate, &a.Baptized, &a.Role, &a.CreatedAt, &a.UpdatedAt, &inserted)
	if err != nil {
		return Account{}, false, mapWriteError(err)
	}
	return a, inserted, nil
}

func optionalID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) {
		switch db.ConstraintName(err) {
		case "users_email_key":
			return fmt.Errorf("%w: email already in use", shared.ErrDuplicate)
		case "users_id_number_key":
			return fmt.Errorf("%w: id number already registered", shared.ErrDuplicate)
		}
		return fmt.Errorf("%w: %s", shared.ErrDuplicate, db.ConstraintName(err))
	}
	if db.IsCheckViolation(err) {
		return fmt.Errorf("%w: %s", shared.ErrValidation, db.ConstraintName(err))
	}
	return err
}
