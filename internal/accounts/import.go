package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/rbac"
	"github.com/congregate/congregate/internal/shared"
)

// MaxImportRecords bounds one import request.
const MaxImportRecords = 5000

// Import runs the two-stage import pipeline: the outer payload is a list of
// untyped records, each record is then decoded and validated on its own. An
// invalid record is skipped and reported; it never aborts the batch.
func (s *Service) Import(ctx context.Context, idempotencyKey string, records []json.RawMessage) (ImportSummary, error) {
	if len(records) == 0 {
		return ImportSummary{}, fmt.Errorf("%w: no users to import", shared.ErrValidation)
	}
	if len(records) > MaxImportRecords {
		return ImportSummary{}, fmt.Errorf("%w: at most %d users per import", shared.ErrValidation, MaxImportRecords)
	}
	caller, ok := rbac.PrincipalFromContext(ctx)
	if !ok {
		return ImportSummary{}, fmt.Errorf("%w: no verified caller", shared.ErrForbidden)
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, shared.IdempotencyModuleImport); err != nil {
			return ImportSummary{}, err
		}
	}

	summary := ImportSummary{Total: len(records)}
	known, warning := s.identityEmails(ctx)
	if warning != "" {
		summary.Warnings = append(summary.Warnings, warning)
	}

	for i, raw := range records {
		if err := ctx.Err(); err != nil {
			s.releaseKey(idempotencyKey)
			return summary, err
		}
		row := i + 1
		var rec ImportRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			summary.Skipped++
			summary.Errors = append(summary.Errors, ImportError{Row: row, IDNumber: rawIDNumber(raw), Error: "skipped: malformed record"})
			continue
		}
		in, err := rec.AccountForm.Normalize()
		if err == nil {
			if verr := validate.StructPartial(rec, "Password"); verr != nil {
				err = validationError(verr)
			}
		}
		if err != nil {
			summary.Skipped++
			summary.Errors = append(summary.Errors, ImportError{Row: row, IDNumber: strings.TrimSpace(rec.IDNumber), Error: "skipped: " + reason(err)})
			continue
		}
		in = normalizeImported(in)

		existing, err := s.repo.FindByIDNumber(ctx, in.IDNumber)
		switch {
		case err == nil && !caller.Role.Covers(existing.Role):
			summary.Failed++
			summary.Errors = append(summary.Errors, ImportError{Row: row, IDNumber: in.IDNumber, Error: "not allowed to modify this member"})
			continue
		case err != nil && !errors.Is(err, shared.ErrNotFound):
			summary.Failed++
			summary.Errors = append(summary.Errors, ImportError{Row: row, IDNumber: in.IDNumber, Error: s.importFailure(in.IDNumber, err)})
			continue
		}

		if in.Email != nil {
			if msg := s.importIdentity(ctx, known, in, rec.Password); msg != "" {
				summary.Warnings = append(summary.Warnings, fmt.Sprintf("row %d: %s", row, msg))
			}
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(rec.Password), s.hashCost)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, ImportError{Row: row, IDNumber: in.IDNumber, Error: "could not hash password"})
			continue
		}
		account, created, err := s.repo.UpsertByIDNumber(ctx, in, string(hash))
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, ImportError{Row: row, IDNumber: in.IDNumber, Error: s.importFailure(in.IDNumber, err)})
			continue
		}
		summary.Success++
		action := "accounts.import.update"
		if created {
			action = "accounts.import.create"
		}
		s.record(ctx, action, account.ID, nil)
	}
	s.logger.Info("import finished",
		slog.Int("total", summary.Total),
		slog.Int("success", summary.Success),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped))
	return summary, nil
}

// identityEmails loads provider emails once per import instead of once per record.
func (s *Service) identityEmails(ctx context.Context) (map[string]struct{}, string) {
	if s.idp == nil {
		return nil, ""
	}
	accounts, err := s.idp.ListAccounts(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrAdminDisabled) {
			return nil, ""
		}
		s.logger.Warn("list identity accounts for import", slog.Any("error", err))
		return nil, "login accounts could not be listed; no login accounts were created"
	}
	known := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		known[strings.ToLower(acc.Email)] = struct{}{}
	}
	return known, ""
}

func (s *Service) importIdentity(ctx context.Context, known map[string]struct{}, in AccountInput, password string) string {
	if known == nil {
		return ""
	}
	email := *in.Email
	if _, ok := known[email]; ok {
		return ""
	}
	_, err := s.idp.CreateAccount(ctx, identity.NewAccount{
		Email:    email,
		Password: password,
		Metadata: MemberMetadata(in.IDNumber, in.FirstNames, in.LastNames),
	})
	if err != nil && !errors.Is(err, identity.ErrAlreadyRegistered) {
		s.logger.Warn("create identity account on import", slog.String("id_number", in.IDNumber), slog.Any("error", err))
		return "login account could not be created"
	}
	known[email] = struct{}{}
	return ""
}

func (s *Service) importFailure(idNumber string, err error) string {
	switch {
	case errors.Is(err, shared.ErrDuplicate):
		return "email already in use by another member"
	case errors.Is(err, shared.ErrValidation):
		return reason(err)
	default:
		s.logger.Error("import record", slog.String("id_number", idNumber), slog.Any("error", err))
		return "could not save record"
	}
}

func (s *Service) releaseKey(key string) {
	if key == "" || s.idempotency == nil {
		return
	}
	if err := s.idempotency.Delete(context.Background(), key, shared.IdempotencyModuleImport); err != nil {
		s.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

func reason(err error) string {
	return strings.TrimPrefix(err.Error(), shared.ErrValidation.Error()+": ")
}

func rawIDNumber(raw json.RawMessage) string {
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	if v, ok := probe["idNumber"].(string); ok {
		return v
	}
	return ""
}
