package accounts

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/rbac"
	"github.com/congregate/congregate/internal/shared"
)

const temporaryPasswordLength = 12

// IdentityAdmin is the subset of the identity provider used for side-actions.
type IdentityAdmin interface {
	ListAccounts(ctx context.Context) ([]identity.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (identity.Account, error)
	CreateAccount(ctx context.Context, account identity.NewAccount) (identity.Account, error)
	UpdateAccountEmail(ctx context.Context, id, email string) error
	DeleteAccount(ctx context.Context, id string) error
}

// RetryQueue schedules identity side-actions that failed inline.
type RetryQueue interface {
	EnqueueIdentityDelete(ctx context.Context, email string) error
	EnqueueIdentityEmailSync(ctx context.Context, oldEmail, newEmail string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates account CRUD. The relational store is authoritative:
// identity-provider calls run after the write commits and only produce warnings.
type Service struct {
	repo        Repository
	idp         IdentityAdmin
	retries     RetryQueue
	audit       AuditPort
	idempotency shared.IdempotencyGuard
	logger      *slog.Logger
	hashCost    int
}

// NewService builds Service. idp, retries, audit and idem may be nil.
func NewService(repo Repository, idp IdentityAdmin, retries RetryQueue, audit AuditPort, idem shared.IdempotencyGuard, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		idp:         idp,
		retries:     retries,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		hashCost:    bcrypt.DefaultCost,
	}
}

// List returns a page of accounts.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	accounts, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Users: accounts, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// Get fetches one account.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.repo.Get(ctx, id)
}

// Create inserts an account with a temporary password and, when the member has
// an email, provisions a confirmed identity account for it.
func (s *Service) Create(ctx context.Context, form AccountForm) (Result, error) {
	in, err := form.Normalize()
	if err != nil {
		return Result{}, err
	}
	if err := s.ensureIDNumberFree(ctx, in.IDNumber, uuid.Nil); err != nil {
		return Result{}, err
	}
	password, err := temporaryPassword()
	if err != nil {
		return Result{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return Result{}, fmt.Errorf("accounts: hash password: %w", err)
	}
	account, err := s.repo.Insert(ctx, in, string(hash))
	if err != nil {
		return Result{}, err
	}

	res := Result{Account: account, TemporaryPassword: password}
	if in.Email != nil {
		if warning := s.provisionIdentity(ctx, account, password); warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
	}
	s.record(ctx, "accounts.create", account.ID, nil)
	return res, nil
}

// Update rewrites an account and syncs an email change to the identity provider.
func (s *Service) Update(ctx context.Context, id uuid.UUID, form AccountForm) (Result, error) {
	in, err := form.Normalize()
	if err != nil {
		return Result{}, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if err := authorizeTarget(ctx, existing); err != nil {
		return Result{}, err
	}
	if existing.IDNumber != in.IDNumber {
		if err := s.ensureIDNumberFree(ctx, in.IDNumber, id); err != nil {
			return Result{}, err
		}
	}
	account, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Result{}, err
	}

	res := Result{Account: account}
	oldEmail, newEmail := existing.EmailValue(), account.EmailValue()
	if oldEmail != "" && newEmail != "" && oldEmail != newEmail {
		if warning := s.syncEmail(ctx, oldEmail, newEmail); warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
	}
	s.record(ctx, "accounts.update", account.ID, nil)
	return res, nil
}

// Delete removes the account row, then revokes the matching identity account.
// A failed revocation is reported and retried, never rolled back.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (Result, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if err := authorizeTarget(ctx, existing); err != nil {
		return Result{}, err
	}
	account, err := s.repo.Delete(ctx, id)
	if err != nil {
		return Result{}, err
	}
	res := Result{Account: account}
	if email := account.EmailValue(); email != "" {
		if warning := s.revokeIdentity(ctx, email); warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
	}
	s.record(ctx, "accounts.delete", account.ID, map[string]any{"idNumber": account.IDNumber})
	return res, nil
}

// authorizeTarget rejects changes to an account whose role outranks the
// caller's. Sessions bind to accounts by email, so the email of a row carries
// its role.
func authorizeTarget(ctx context.Context, target Account) error {
	caller, ok := rbac.PrincipalFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no verified caller", shared.ErrForbidden)
	}
	if !caller.Role.Covers(target.Role) {
		return fmt.Errorf("%w: %s cannot modify %s accounts", shared.ErrForbidden, caller.Role, target.Role)
	}
	return nil
}

func (s *Service) ensureIDNumberFree(ctx context.Context, idNumber string, self uuid.UUID) error {
	other, err := s.repo.FindByIDNumber(ctx, idNumber)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return nil
	case err != nil:
		return err
	case other.ID != self:
		return fmt.Errorf("%w: id number already registered", shared.ErrDuplicate)
	}
	return nil
}

func (s *Service) provisionIdentity(ctx context.Context, account Account, password string) string {
	if s.idp == nil {
		return ""
	}
	_, err := s.idp.CreateAccount(ctx, identity.NewAccount{
		Email:    account.EmailValue(),
		Password: password,
		Metadata: MemberMetadata(account.IDNumber, account.FirstNames, account.LastNames),
	})
	switch {
	case err == nil:
		return ""
	case errors.Is(err, identity.ErrAlreadyRegistered):
		return "an identity account already exists for this email"
	case errors.Is(err, identity.ErrAdminDisabled):
		return ""
	default:
		s.logger.Warn("provision identity account", slog.String("account_id", account.ID.String()), slog.Any("error", err))
		return "account saved, but the login account could not be created"
	}
}

// SyncEmail moves the identity account of oldEmail to newEmail. It is the
// retry entry point for the email-sync job.
func (s *Service) SyncEmail(ctx context.Context, oldEmail, newEmail string) error {
	if s.idp == nil {
		return identity.ErrAdminDisabled
	}
	acc, err := s.idp.FindAccountByEmail(ctx, oldEmail)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			return nil
		}
		return err
	}
	return s.idp.UpdateAccountEmail(ctx, acc.ID, newEmail)
}

// RevokeIdentity deletes the identity account registered for email. It is the
// retry entry point for the identity-delete job.
func (s *Service) RevokeIdentity(ctx context.Context, email string) error {
	if s.idp == nil {
		return identity.ErrAdminDisabled
	}
	acc, err := s.idp.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			return nil
		}
		return err
	}
	if err := s.idp.DeleteAccount(ctx, acc.ID); err != nil && !errors.Is(err, identity.ErrAccountNotFound) {
		return err
	}
	return nil
}

func (s *Service) syncEmail(ctx context.Context, oldEmail, newEmail string) string {
	if s.idp == nil {
		return ""
	}
	err := s.SyncEmail(ctx, oldEmail, newEmail)
	if err == nil || errors.Is(err, identity.ErrAdminDisabled) {
		return ""
	}
	s.logger.Warn("sync identity email", slog.String("old_email", oldEmail), slog.Any("error", err))
	if s.retries != nil {
		qerr := s.retries.EnqueueIdentityEmailSync(ctx, oldEmail, newEmail)
		if qerr == nil {
			return "account updated, login email change is pending and will be retried"
		}
		s.logger.Error("enqueue identity email sync", slog.Any("error", qerr))
	}
	return "account updated, but the login email could not be changed"
}

func (s *Service) revokeIdentity(ctx context.Context, email string) string {
	if s.idp == nil {
		return ""
	}
	err := s.RevokeIdentity(ctx, email)
	if err == nil || errors.Is(err, identity.ErrAdminDisabled) {
		return ""
	}
	s.logger.Warn("revoke identity account", slog.String("email", email), slog.Any("error", err))
	if s.retries != nil {
		qerr := s.retries.EnqueueIdentityDelete(ctx, email)
		if qerr == nil {
			return "account deleted, login account removal is pending and will be retried"
		}
		s.logger.Error("enqueue identity delete", slog.Any("error", qerr))
	}
	return "account deleted, but the login account could not be removed; review it manually"
}

func (s *Service) record(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "user", EntityID: id.String(), Meta: meta}); err != nil {
		s.logger.Warn("audit account change", slog.String("action", action), slog.Any("error", err))
	}
}

// MemberMetadata is the user metadata stored with identity accounts.
func MemberMetadata(idNumber, firstNames, lastNames string) map[string]any {
	return map[string]any{
		"cedula":    idNumber,
		"nombres":   firstNames,
		"apellidos": lastNames,
	}
}

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func temporaryPassword() (string, error) {
	buf := make([]byte, temporaryPasswordLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("accounts: generate password: %w", err)
	}
	var b strings.Builder
	b.Grow(temporaryPasswordLength)
	for _, c := range buf {
		b.WriteByte(passwordAlphabet[int(c)%len(passwordAlphabet)])
	}
	return b.String(), nil
}
