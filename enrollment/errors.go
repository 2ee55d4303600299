/*
errors.go - Centralized error types for the registration engine

PURPOSE:
  All error types in one place. Every failure a caller can act on has its own
  sentinel, and every sentinel maps to an ErrorKind with a specific message
  the dashboard can show.

ERROR CATEGORIES:
  1. Coupon errors - NotFound, Inactive, OutOfWindow, ProgramMismatch,
     BelowMinimum, LimitReached
  2. Review/edit errors - MissingNotes, InvalidTransition, Locked
  3. Provisioning errors - NotApproved
  4. Store errors - Conflict (lost update), Unavailable (infrastructure)

USAGE:
  if errors.Is(err, enrollment.ErrLimitReached) { ... }
  kind := enrollment.KindOf(err)
  msg := enrollment.Message(kind)

SEE ALSO:
  - api/errors.go: HTTP status mapping
*/
package enrollment

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrCouponInactive    = errors.New("coupon is inactive")
	ErrCouponOutOfWindow = errors.New("coupon is outside its validity window")
	ErrProgramMismatch   = errors.New("coupon does not apply to this program")
	ErrBelowMinimum      = errors.New("purchase amount is below the coupon minimum")
	ErrLimitReached      = errors.New("coupon usage limit reached")
	ErrDuplicateCoupon   = errors.New("coupon code already exists")

	ErrMissingNotes      = errors.New("review notes are required")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrLocked            = errors.New("registration is approved and locked")

	ErrNotApproved = errors.New("registration is not approved")

	ErrRegistrationNotFound = errors.New("registration not found")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrConflict is returned when an optimistic version check fails.
	// Callers retry the whole operation.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrUnavailable is returned when the backing store cannot serve the request.
	ErrUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CouponError attaches the normalized code to a coupon failure.
type CouponError struct {
	Code string
	Err  error
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %s: %v", e.Code, e.Err)
}

func (e *CouponError) Unwrap() error {
	return e.Err
}

// BelowMinimumError provides the minimum that was not met.
type BelowMinimumError struct {
	Code    string
	Minimum Money
	Amount  Money
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("coupon %s: purchase amount %s is below minimum %s", e.Code, e.Amount, e.Minimum)
}

func (e *BelowMinimumError) Unwrap() error {
	return ErrBelowMinimum
}

// TransitionError describes a refused status change.
type TransitionError struct {
	RegistrationID RegistrationID
	From           Status
	To             Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("registration %s: cannot move from %s to %s", e.RegistrationID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// FieldError is a single rejected input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every rejected input field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Reason
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// UnavailableError wraps an infrastructure failure from a store.
// It matches both ErrUnavailable and the underlying driver error.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// Unavailable wraps err as an UnavailableError for operation op.
func Unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// =============================================================================
// ERROR KINDS
// =============================================================================

// ErrorKind is the caller-facing classification of an error.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "not_found"
	KindInactive             ErrorKind = "inactive"
	KindOutOfWindow          ErrorKind = "out_of_window"
	KindProgramMismatch      ErrorKind = "program_mismatch"
	KindBelowMinimum         ErrorKind = "below_minimum"
	KindLimitReached         ErrorKind = "limit_reached"
	KindDuplicateCoupon      ErrorKind = "duplicate_coupon"
	KindMissingNotes         ErrorKind = "missing_notes"
	KindInvalidTransition    ErrorKind = "invalid_transition"
	KindLocked               ErrorKind = "locked"
	KindNotApproved          ErrorKind = "not_approved"
	KindRegistrationNotFound ErrorKind = "registration_not_found"
	KindInvalidInput         ErrorKind = "invalid_input"
	KindConflict             ErrorKind = "conflict"
	KindUnavailable          ErrorKind = "unavailable"
	KindInternal             ErrorKind = "internal"
)

// Order matters: Unavailable is checked before the wrapped driver error.
var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnavailable, KindUnavailable},
	{ErrConflict, KindConflict},
	{ErrCouponNotFound, KindNotFound},
	{ErrCouponInactive, KindInactive},
	{ErrCouponOutOfWindow, KindOutOfWindow},
	{ErrProgramMismatch, KindProgramMismatch},
	{ErrBelowMinimum, KindBelowMinimum},
	{ErrLimitReached, KindLimitReached},
	{ErrDuplicateCoupon, KindDuplicateCoupon},
	{ErrMissingNotes, KindMissingNotes},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrLocked, KindLocked},
	{ErrNotApproved, KindNotApproved},
	{ErrRegistrationNotFound, KindRegistrationNotFound},
	{ErrInvalidInput, KindInvalidInput},
}

var kindMessages = map[ErrorKind]string{
	KindNotFound:             "The coupon code does not exist.",
	KindInactive:             "The coupon is no longer active.",
	KindOutOfWindow:          "The coupon cannot be used at this time.",
	KindProgramMismatch:      "The coupon is not valid for the selected program.",
	KindBelowMinimum:         "The program price does not meet the coupon's minimum purchase.",
	KindLimitReached:         "The coupon has reached its usage limit.",
	KindDuplicateCoupon:      "A coupon with this code already exists.",
	KindMissingNotes:         "Review notes are required for every status change.",
	KindInvalidTransition:    "This status change is not allowed for the registration's current status.",
	KindLocked:               "Approved registrations can no longer be edited or deleted.",
	KindNotApproved:          "Only approved registrations can receive a user account.",
	KindRegistrationNotFound: "The registration does not exist.",
	KindInvalidInput:         "Some fields are missing or invalid.",
	KindConflict:             "The record was changed by someone else. Reload and try again.",
	KindUnavailable:          "The registration service is temporarily unavailable. Try again shortly.",
	KindInternal:             "The registration service hit an unexpected error and logged it for the administrator.",
}

// KindOf classifies err. Unclassified errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// Message returns the user-visible message for kind.
func Message(kind ErrorKind) string {
	return kindMessages[kind]
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}

// IsClientError returns true if the error is caused by the caller's input or
// by the current state of the record.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindUnavailable, KindInternal, "":
		return false
	}
	return true
}
