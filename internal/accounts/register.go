package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congregate/congregate/internal/shared"
)

// CheckRegistration normalizes a self-registration form and rejects it when
// the email or id number already belongs to a member. It runs before the
// identity provider sign-up so a duplicate never creates a stray login.
func (s *Service) CheckRegistration(ctx context.Context, form AccountForm) (AccountInput, error) {
	in, err := form.Normalize()
	if err != nil {
		return AccountInput{}, err
	}
	if in.Email == nil {
		return AccountInput{}, fmt.Errorf("%w: email is required", shared.ErrValidation)
	}
	if _, err := s.repo.FindByEmail(ctx, *in.Email); err == nil {
		return AccountInput{}, fmt.Errorf("%w: email already registered", shared.ErrDuplicate)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return AccountInput{}, err
	}
	if err := s.ensureIDNumberFree(ctx, in.IDNumber, uuid.Nil); err != nil {
		return AccountInput{}, err
	}
	return in, nil
}

// Register stores the member row for an identity created by sign-up. When the
// subject is a uuid it becomes the row id.
func (s *Service) Register(ctx context.Context, subject string, in AccountInput, password string) (Account, error) {
	if id, err := uuid.Parse(subject); err == nil {
		in.ID = id
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return Account{}, fmt.Errorf("accounts: hash password: %w", err)
	}
	account, err := s.repo.Insert(ctx, in, string(hash))
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, "accounts.register", account.ID, nil)
	return account, nil
}
