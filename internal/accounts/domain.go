package accounts

import (
	"time"

	"github.com/google/uuid"

	"github.com/congregate/congregate/internal/rbac"
	"github.com/congregate/congregate/internal/shared"
)

// Account represents one member record.
type Account struct {
	ID          uuid.UUID  `json:"id"`
	IDNumber    string     `json:"idNumber"`
	FirstNames  string     `json:"firstNames"`
	LastNames   string     `json:"lastNames"`
	Email       *string    `json:"email"`
	Phone       string     `json:"phone"`
	Address     string     `json:"address"`
	WhatsApp    bool       `json:"whatsapp"`
	BaptismDate *time.Time `json:"baptismDate"`
	Baptized    bool       `json:"baptized"`
	Role        rbac.Role  `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// EmailValue returns the email or "" for members without login.
func (a Account) EmailValue() string {
	if a.Email == nil {
		return ""
	}
	return *a.Email
}

// AccountForm is the create/update payload.
type AccountForm struct {
	IDNumber    string `json:"idNumber" validate:"required,max=32"`
	FirstNames  string `json:"firstNames" validate:"required,max=120"`
	LastNames   string `json:"lastNames" validate:"required,max=120"`
	Phone       string `json:"phone" validate:"omitempty,max=40"`
	Address     string `json:"address" validate:"omitempty,max=255"`
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	BaptismDate string `json:"baptismDate" validate:"omitempty,max=40"`
	WhatsApp    bool   `json:"whatsapp"`
	Baptized    bool   `json:"baptized"`
}

// ImportRecord is one row of a bulk import.
type ImportRecord struct {
	AccountForm
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// AccountInput is a validated and normalised form.
type AccountInput struct {
	// ID is set only for self-registered members, whose row id is the identity subject.
	ID          uuid.UUID
	IDNumber    string
	FirstNames  string
	LastNames   string
	Phone       string
	Address     string
	Email       *string
	WhatsApp    bool
	BaptismDate *time.Time
	Baptized    bool
}

// ListFilter narrows account listings.
type ListFilter struct {
	Search  string
	Page    int
	PerPage int
}

// ListResult is a page of accounts.
type ListResult struct {
	Users      []Account         `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

// Result is the outcome of a mutation. Warnings describe best-effort identity
// side-actions that failed after the record was committed.
type Result struct {
	Account           Account  `json:"user"`
	Warnings          []string `json:"warnings,omitempty"`
	TemporaryPassword string   `json:"temporaryPassword,omitempty"`
}

// ImportError describes a record that was skipped or failed.
type ImportError struct {
	Row      int    `json:"row"`
	IDNumber string `json:"idNumber"`
	Error    string `json:"error"`
}

// ImportSummary reports a bulk import.
type ImportSummary struct {
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Total    int           `json:"total"`
	Errors   []ImportError `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Clean reports whether every record was imported.
func (s ImportSummary) Clean() bool {
	return s.Failed == 0 && s.Skipped == 0
}
