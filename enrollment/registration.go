/*
registration.go - Candidate registration entity

PURPOSE:
  Owns the registration record and its status field, and decides which
  fields may change in which status.

LIFECYCLE:
  ┌─────────┐  review   ┌──────────┐  review   ┌──────────┐
  │ pending │ ────────▶ │ reviewed │ ────────▶ │ approved │ ──▶ provisioning
  └─────────┘           └──────────┘           └──────────┘
       │                     │                 ┌──────────┐
       └─────────────────────┴───────────────▶ │ rejected │
                                               └──────────┘
  pending may also go straight to approved or rejected.

MUTABILITY:
  - pending, reviewed, rejected: candidate fields editable, delete allowed
  - approved: candidate and commercial fields frozen, delete refused (Locked)
  - status itself only changes through ReviewService (review.go)
  - LinkedUserAccountID is written once, by Provisioner (provision.go)

SEE ALSO:
  - review.go: transition table
  - service.go: submit, edit and delete operations
*/
package enrollment

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RegistrationID string
type UserID string

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusReviewed Status = "reviewed"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus converts external input into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusReviewed, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", &ValidationError{Fields: []FieldError{{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}}}
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// =============================================================================
// CANDIDATE
// =============================================================================

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Candidate holds the fields supplied by the enrollment form.
type Candidate struct {
	Name           string    `json:"name" validate:"required,max=150"`
	BirthDate      time.Time `json:"birth_date" validate:"required"`
	Gender         Gender    `json:"gender" validate:"required,oneof=male female"`
	GuardianName   string    `json:"guardian_name" validate:"required,max=150"`
	Phone          string    `json:"phone" validate:"required,min=8,max=20"`
	Email          string    `json:"email" validate:"required,email"`
	Address        string    `json:"address" validate:"required,max=500"`
	PreviousSchool string    `json:"previous_school,omitempty" validate:"omitempty,max=150"`
}

// Normalize trims whitespace and lower-cases the email.
func (c Candidate) Normalize() Candidate {
	c.Name = strings.TrimSpace(c.Name)
	c.GuardianName = strings.TrimSpace(c.GuardianName)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = NormalizeEmail(c.Email)
	c.Address = strings.TrimSpace(c.Address)
	c.PreviousSchool = strings.TrimSpace(c.PreviousSchool)
	return c
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Registration is a candidate's enrollment submission and its review record.
type Registration struct {
	ID        RegistrationID
	Candidate Candidate
	Program   string

	// Commercial fields, fixed at submission
	CouponCode *string
	BasePrice  Money
	Discount   Money
	Payable    Money

	// Lifecycle
	Status              Status
	ReviewNotes         *string
	ReviewedBy          *string
	ReviewedAt          *time.Time
	LinkedUserAccountID *UserID
	ProvisionOutcome    *ProvisionOutcome

	// Version is bumped on every write and checked by the store.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckMutable returns ErrLocked when the registration is approved.
func (r *Registration) CheckMutable() error {
	if r.Status == StatusApproved {
		return fmt.Errorf("registration %s: %w", r.ID, ErrLocked)
	}
	return nil
}

// IsProvisioned reports whether a user account is already linked.
func (r *Registration) IsProvisioned() bool {
	return r.LinkedUserAccountID != nil
}

// Clone returns a deep copy so stores never share pointers with callers.
func (r *Registration) Clone() *Registration {
	if r == nil {
		return nil
	}
	c := *r
	c.CouponCode = clonePtr(r.CouponCode)
	c.ReviewNotes = clonePtr(r.ReviewNotes)
	c.ReviewedBy = clonePtr(r.ReviewedBy)
	c.ReviewedAt = clonePtr(r.ReviewedAt)
	c.LinkedUserAccountID = clonePtr(r.LinkedUserAccountID)
	c.ProvisionOutcome = clonePtr(r.ProvisionOutcome)
	return &c
}

// RegistrationFilter narrows ListRegistrations. Zero values match everything.
type RegistrationFilter struct {
	Status  Status
	Program string
	Limit   int
	Offset  int
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
