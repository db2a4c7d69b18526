package shared

import "errors"

var (
	// ErrUnauthenticated indicates a missing, expired or unverifiable session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates a verified caller lacking the required role or permission.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidRole indicates a role outside the admin/staff/usuario enumeration.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidPermission indicates an unknown permission id or name.
	ErrInvalidPermission = errors.New("invalid permission")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique constraint collision.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrPartialFailure indicates a bulk operation where only some items succeeded.
	ErrPartialFailure = errors.New("partial failure")
	// ErrUpstreamUnavailable indicates the relational store or identity provider could not answer.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotConfirmed indicates valid credentials for an account whose email is unconfirmed.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
