package accounts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/congregate/congregate/internal/shared"
)

var (
	validate  = validator.New(validator.WithRequiredStructEnabled())
	nameCaser = cases.Title(language.Spanish)
)

var baptismLayouts = []string{time.RFC3339, "2006-01-02", "02/01/2006"}

// Normalize validates the form and returns the input persisted by the repository.
func (f AccountForm) Normalize() (AccountInput, error) {
	f.IDNumber = strings.TrimSpace(f.IDNumber)
	f.FirstNames = strings.Join(strings.Fields(f.FirstNames), " ")
	f.LastNames = strings.Join(strings.Fields(f.LastNames), " ")
	f.Phone = strings.TrimSpace(f.Phone)
	f.Address = strings.TrimSpace(f.Address)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.BaptismDate = strings.TrimSpace(f.BaptismDate)

	if err := validate.Struct(f); err != nil {
		return AccountInput{}, validationError(err)
	}
	in := AccountInput{
		IDNumber:   f.IDNumber,
		FirstNames: f.FirstNames,
		LastNames:  f.LastNames,
		Phone:      f.Phone,
		Address:    f.Address,
		WhatsApp:   f.WhatsApp,
		Baptized:   f.Baptized,
	}
	if f.Email != "" {
		email := f.Email
		in.Email = &email
	}
	if f.BaptismDate != "" {
		date, err := parseBaptismDate(f.BaptismDate)
		if err != nil {
			return AccountInput{}, err
		}
		in.BaptismDate = &date
	}
	if in.Baptized && in.BaptismDate == nil {
		return AccountInput{}, fmt.Errorf("%w: baptismDate is required when baptized is true", shared.ErrValidation)
	}
	return in, nil
}

// normalizeImported title-cases names coming from spreadsheets.
func normalizeImported(in AccountInput) AccountInput {
	in.FirstNames = nameCaser.String(strings.ToLower(in.FirstNames))
	in.LastNames = nameCaser.String(strings.ToLower(in.LastNames))
	return in
}

func parseBaptismDate(raw string) (time.Time, error) {
	for _, layout := range baptismLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: baptismDate %q is not a valid date", shared.ErrValidation, raw)
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	fe := fieldErrs[0]
	field := jsonFieldName(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", shared.ErrValidation, field)
	case "email":
		return fmt.Errorf("%w: %s is not a valid email", shared.ErrValidation, field)
	case "min":
		return fmt.Errorf("%w: %s must be at least %s characters", shared.ErrValidation, field, fe.Param())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", shared.ErrValidation, field, fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", shared.ErrValidation, field)
	}
}

func jsonFieldName(name string) string {
	if name == "" {
		return name
	}
	switch name {
	case "IDNumber":
		return "idNumber"
	case "WhatsApp":
		return "whatsapp"
	}
	return strings.ToLower(name[:1]) + name[1:]
}
