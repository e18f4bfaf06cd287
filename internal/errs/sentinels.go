// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates an access-control denial. Concrete denials are
	// returned as *DenyError which matches ErrForbidden via errors.Is.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidStateTransition indicates a document transition from a wrong source state.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrMissingReason indicates a rejection without a non-empty reason.
	ErrMissingReason = errors.New("missing rejection reason")

	// ErrInvalidCredentials indicates a failed password check. It never tells
	// apart an unknown account from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenExpired indicates an expired or already consumed step-up token.
	ErrTokenExpired = errors.New("step-up token expired")

	// ErrTokenMismatch indicates a step-up token that is malformed or bound to another user.
	ErrTokenMismatch = errors.New("step-up token mismatch")

	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation")

	// ErrUnauthorized indicates a missing or invalid access token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")
)

// DenyReason is the machine-readable cause of an access-control denial.
type DenyReason string

const (
	ReasonRoleInsufficient     DenyReason = "role_insufficient"
	ReasonOrganizationMismatch DenyReason = "organization_mismatch"
	ReasonResourceNotFound     DenyReason = "resource_not_found"
	ReasonInactiveAccount      DenyReason = "inactive_account"
)

// DenyError is returned when the access-control evaluator denies an action.
type DenyError struct {
	Reason DenyReason
}

func (e *DenyError) Error() string { return fmt.Sprintf("forbidden: %s", e.Reason) }

// Is makes errors.Is(err, ErrForbidden) true for every denial.
func (e *DenyError) Is(target error) bool { return target == ErrForbidden }

// Deny builds a DenyError for the reason.
func Deny(reason DenyReason) error { return &DenyError{Reason: reason} }

// Validation wraps ErrValidation with a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ReasonOf extracts the denial reason, if err carries one.
func ReasonOf(err error) (DenyReason, bool) {
	var de *DenyError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return "", false
}
