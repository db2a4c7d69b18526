package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/congregate/congregate/internal/accounts"
	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/rbac"
	"github.com/congregate/congregate/internal/session"
	"github.com/congregate/congregate/internal/shared"
)

// IdentityProvider is the subset of the identity client used by auth flows.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (identity.Session, error)
	SignUp(ctx context.Context, account identity.NewAccount) (identity.Account, error)
	SignOut(ctx context.Context, accessToken string) error
	VerifySession(ctx context.Context, token string) (identity.Identity, error)
}

// Registry stores self-registered members.
type Registry interface {
	CheckRegistration(ctx context.Context, form accounts.AccountForm) (accounts.AccountInput, error)
	Register(ctx context.Context, subject string, in accounts.AccountInput, password string) (accounts.Account, error)
}

// Revoker denylists session tokens until they expire.
type Revoker interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
}

// Service wraps authentication business rules.
type Service struct {
	idp      IdentityProvider
	members  rbac.MemberResolver
	registry Registry
	revoker  Revoker
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(idp IdentityProvider, members rbac.MemberResolver, registry Registry, revoker Revoker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		idp:      idp,
		members:  members,
		registry: registry,
		revoker:  revoker,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Login signs in with the identity provider and reconciles the member row, so
// the first login of a provider-only account creates its default record.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return LoginResult{}, requestError(err)
	}
	sess, err := s.idp.SignIn(ctx, req.Email, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return LoginResult{}, shared.ErrInvalidCredentials
	case errors.Is(err, identity.ErrEmailNotConfirmed):
		return LoginResult{}, shared.ErrEmailNotConfirmed
	case err != nil:
		return LoginResult{}, fmt.Errorf("%w: sign in: %w", shared.ErrUpstreamUnavailable, err)
	}
	ident, err := s.idp.VerifySession(ctx, sess.AccessToken)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: provider issued an unverifiable token: %w", shared.ErrUpstreamUnavailable, err)
	}
	member, err := s.members.Resolve(ctx, ident)
	if err != nil {
		if errors.Is(err, shared.ErrUnauthenticated) {
			return LoginResult{}, err
		}
		s.logger.Error("resolve member on login", slog.String("email", req.Email), slog.Any("error", err))
		return LoginResult{}, fmt.Errorf("%w: resolve member: %v", shared.ErrUpstreamUnavailable, err)
	}
	expiresAt := sess.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = ident.ExpiresAt
	}
	return LoginResult{Token: sess.AccessToken, ExpiresAt: expiresAt, Member: member}, nil
}

// Register signs up a member with the identity provider and stores the member row.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (accounts.Account, error) {
	if err := s.validate.StructPartial(req, "Password"); err != nil {
		return accounts.Account{}, requestError(err)
	}
	in, err := s.registry.CheckRegistration(ctx, req.AccountForm)
	if err != nil {
		return accounts.Account{}, err
	}
	created, err := s.idp.SignUp(ctx, identity.NewAccount{
		Email:    *in.Email,
		Password: req.Password,
		Metadata: accounts.MemberMetadata(in.IDNumber, in.FirstNames, in.LastNames),
	})
	switch {
	case errors.Is(err, identity.ErrAlreadyRegistered):
		return accounts.Account{}, fmt.Errorf("%w: email already registered", shared.ErrDuplicate)
	case err != nil:
		return accounts.Account{}, fmt.Errorf("%w: sign up: %w", shared.ErrUpstreamUnavailable, err)
	}
	account, err := s.registry.Register(ctx, created.ID, in, req.Password)
	if err != nil {
		// The login exists without a member row; first login reconciles a default one.
		s.logger.Error("store registered member",
			slog.String("subject", created.ID),
			slog.Any("error", err))
		return accounts.Account{}, err
	}
	return account, nil
}

// Logout revokes the session token locally and signs out at the provider.
// The provider call is best-effort: the local denylist already rejects the token.
func (s *Service) Logout(ctx context.Context, ident session.Identity) error {
	expiresAt := ident.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(time.Hour)
	}
	if err := s.revoker.Revoke(ctx, ident.Token, expiresAt); err != nil {
		return fmt.Errorf("%w: revoke session: %w", shared.ErrUpstreamUnavailable, err)
	}
	if err := s.idp.SignOut(ctx, ident.Token); err != nil {
		s.logger.Warn("provider sign out", slog.String("subject", ident.Subject), slog.Any("error", err))
	}
	return nil
}

func requestError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", shared.ErrValidation, field)
	case "email":
		return fmt.Errorf("%w: %s is not a valid email", shared.ErrValidation, field)
	case "min":
		return fmt.Errorf("%w: %s must be at least %s characters", shared.ErrValidation, field, fe.Param())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", shared.ErrValidation, field, fe.Param())
	}
	return fmt.Errorf("%w: %s is invalid", shared.ErrValidation, field)
}
