package auth

import (
	"time"

	"github.com/congregate/congregate/internal/accounts"
	"github.com/congregate/congregate/internal/rbac"
)

// LoginRequest carries password credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// RegisterRequest is a self-registration: the member record plus the login password.
type RegisterRequest struct {
	accounts.AccountForm
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginResult is a verified session bound to its stored member.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Member    rbac.Member
}

// SessionUser is the public view of the signed-in member.
type SessionUser struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}
