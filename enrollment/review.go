/*
review.go - Review State Machine

PURPOSE:
  Governs which status transitions are legal and what every transition
  requires. All status changes go through ReviewService.Review; no other
  code path writes Registration.Status after submission.

TRANSITION TABLE:
  from \ to   pending  reviewed  approved  rejected
  pending        -        ✓         ✓         ✓
  reviewed       -        -         ✓         ✓
  approved       -        -         -         -
  rejected       -        -         -         -

REQUIRED INPUTS:
  - notes: non-blank on every transition, whatever the target
  - actor: the staff member performing the review

CHECK ORDER:
  1. current status terminal      -> InvalidTransition
  2. notes blank                  -> MissingNotes
  3. target not reachable         -> InvalidTransition
  4. caller's version is stale    -> Conflict

SEE ALSO:
  - registration.go: status type and mutability guard
  - events.go: ReviewCompleted
*/
package enrollment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusReviewed, StatusApproved, StatusRejected},
	StatusReviewed: {StatusApproved, StatusRejected},
	StatusApproved: {},
	StatusRejected: {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTargets lists the statuses reachable from from.
func AllowedTargets(from Status) []Status {
	out := make([]Status, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// ReviewInput is a staff review action from the dashboard.
type ReviewInput struct {
	RegistrationID RegistrationID
	Target         Status
	Notes          string
	ActorID        string

	// ExpectedVersion, when set, must match the stored version.
	ExpectedVersion *int64
}

// ReviewService applies review actions.
type ReviewService struct {
	Store     TxStore
	Publisher Publisher
	Clock     Clock
	Log       logrus.FieldLogger
}

func NewReviewService(store TxStore, publisher Publisher, log logrus.FieldLogger) *ReviewService {
	return &ReviewService{
		Store:     store,
		Publisher: orNop(publisher),
		Clock:     time.Now,
		Log:       orStandard(log),
	}
}

// Review moves a registration to in.Target and emits ReviewCompleted.
func (s *ReviewService) Review(ctx context.Context, in ReviewInput) (*Registration, error) {
	notes := strings.TrimSpace(in.Notes)
	actor := strings.TrimSpace(in.ActorID)
	if actor == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "actor_id", Reason: "is required"}}}
	}

	var (
		updated *Registration
		prev    Status
	)
	err := s.Store.WithTx(ctx, func(tx Store) error {
		reg, err := tx.GetRegistration(ctx, in.RegistrationID)
		if err != nil {
			return err
		}
		prev = reg.Status

		if reg.Status.IsTerminal() {
			return &TransitionError{RegistrationID: reg.ID, From: reg.Status, To: in.Target}
		}
		if notes == "" {
			return fmt.Errorf("registration %s: %w", reg.ID, ErrMissingNotes)
		}
		if !CanTransition(reg.Status, in.Target) {
			return &TransitionError{RegistrationID: reg.ID, From: reg.Status, To: in.Target}
		}
		if in.ExpectedVersion != nil && *in.ExpectedVersion != reg.Version {
			return fmt.Errorf("registration %s: version %d is stale: %w", reg.ID, *in.ExpectedVersion, ErrConflict)
		}

		now := s.Clock().UTC()
		reg.Status = in.Target
		reg.ReviewNotes = &notes
		reg.ReviewedBy = &actor
		reg.ReviewedAt = &now
		reg.UpdatedAt = now

		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		updated = reg
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"registration": updated.ID,
		"from":         prev,
		"to":           updated.Status,
		"actor":        actor,
	}).Info("registration reviewed")

	publish(ctx, s.Publisher, s.Log, ReviewCompleted{
		Registration: *updated.Clone(),
		PrevStatus:   prev,
		NewStatus:    updated.Status,
		Notes:        notes,
		ActorID:      actor,
		At:           *updated.ReviewedAt,
	})
	return updated, nil
}

// AllowedTargets lists the review actions the dashboard may offer for from.
func (s *ReviewService) AllowedTargets(from Status) []Status {
	return AllowedTargets(from)
}
