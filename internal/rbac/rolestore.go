package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/shared"
)

const placeholderIDNumberPrefix = "SIN_CEDULA_"

// RoleRepository is the persistence port of the RoleStore.
type RoleRepository interface {
	// FindMemberByEmail returns shared.ErrNotFound when no account matches.
	FindMemberByEmail(ctx context.Context, email string) (Member, error)
	// InsertMember returns shared.ErrDuplicate on a unique violation.
	InsertMember(ctx context.Context, m NewMember) (Member, error)
	// UpdateRole returns shared.ErrNotFound when no row was updated and
	// ErrLastAdmin when the change would demote the only admin.
	UpdateRole(ctx context.Context, id string, role Role) error
}

// RoleStore is the single source of account roles. It performs no
// authorization of its own.
type RoleStore struct {
	repo   RoleRepository
	logger *slog.Logger
}

// NewRoleStore constructs a RoleStore.
func NewRoleStore(repo RoleRepository, logger *slog.Logger) *RoleStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleStore{repo: repo, logger: logger}
}

// Resolve returns the account bound to a verified identity, creating a default
// usuario row on first login. Concurrent first logins converge on one row: a
// unique violation on insert means another request won, so the row is re-read.
func (s *RoleStore) Resolve(ctx context.Context, ident identity.Identity) (Member, error) {
	email := strings.ToLower(strings.TrimSpace(ident.Email))
	if email == "" {
		return Member{}, fmt.Errorf("%w: identity without email", shared.ErrUnauthenticated)
	}
	member, err := s.repo.FindMemberByEmail(ctx, email)
	if err == nil {
		return member, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Member{}, fmt.Errorf("rbac: find member: %w", err)
	}

	member, err = s.repo.InsertMember(ctx, defaultMember(ident, email))
	if err == nil {
		s.logger.Info("reconciled first login", slog.String("account_id", member.ID), slog.String("email", email))
		return member, nil
	}
	if !errors.Is(err, shared.ErrDuplicate) {
		return Member{}, fmt.Errorf("rbac: reconcile member: %w", err)
	}
	member, err = s.repo.FindMemberByEmail(ctx, email)
	if errors.Is(err, shared.ErrNotFound) {
		// The violation was on id or id_number, not email.
		s.logger.Error("first login collides with another account", slog.String("subject", ident.Subject), slog.String("email", email))
		return Member{}, ErrMemberConflict
	}
	if err != nil {
		return Member{}, fmt.Errorf("rbac: re-read reconciled member: %w", err)
	}
	return member, nil
}

// GetRole returns the stored role of the verified identity.
func (s *RoleStore) GetRole(ctx context.Context, ident identity.Identity) (Role, error) {
	member, err := s.Resolve(ctx, ident)
	if err != nil {
		return "", err
	}
	return member.Role, nil
}

// SetRole validates the role and updates exactly one account.
func (s *RoleStore) SetRole(ctx context.Context, id, rawRole string) error {
	role, err := ParseRole(rawRole)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: account %q", shared.ErrNotFound, id)
	}
	return s.repo.UpdateRole(ctx, id, role)
}

func defaultMember(ident identity.Identity, email string) NewMember {
	m := NewMember{
		Email:      email,
		Role:       DefaultRole,
		IDNumber:   ident.MetadataString("cedula", "id_number"),
		FirstNames: ident.MetadataString("nombres", "first_names"),
		LastNames:  ident.MetadataString("apellidos", "last_names"),
	}
	if _, err := uuid.Parse(ident.Subject); err == nil {
		m.ID = ident.Subject
	}
	if m.IDNumber == "" {
		subject := ident.Subject
		if len(subject) > 8 {
			subject = subject[:8]
		}
		m.IDNumber = placeholderIDNumberPrefix + subject
	}
	if m.FirstNames == "" {
		local, _, _ := strings.Cut(email, "@")
		m.FirstNames = local
	}
	return m
}
