/*
events.go - Outbound events for the notification dispatcher

PURPOSE:
  The engine decides that an email must be sent and what it carries. The
  dispatcher that composes and sends it lives outside the core and receives
  these events through Publisher.

EVENTS:
  review.completed        after every successful status transition
  provisioning.completed  after a user account is created or linked

CREDENTIALS:
  ProvisioningCompleted.TempCredential is the only place the plaintext
  temporary credential exists. Stores keep the bcrypt hash only. Publishers
  that log events must redact it (see notify.LogPublisher).

DELIVERY:
  Events are published after the store transaction commits. A publish failure
  is logged and does not undo the committed state change.
*/
package enrollment

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Event is a fact emitted by the engine.
type Event interface {
	EventName() string
}

const (
	EventReviewCompleted       = "review.completed"
	EventProvisioningCompleted = "provisioning.completed"
)

// ReviewCompleted carries the registration snapshot after a transition.
type ReviewCompleted struct {
	Registration Registration
	PrevStatus   Status
	NewStatus    Status
	Notes        string
	ActorID      string
	At           time.Time
}

func (ReviewCompleted) EventName() string { return EventReviewCompleted }

// ProvisioningCompleted tells the dispatcher which account email to send.
type ProvisioningCompleted struct {
	RegistrationID RegistrationID
	Outcome        ProvisionOutcome
	Email          string
	UserAccountID  UserID
	CandidateName  string
	GuardianName   string

	// TempCredential is set only when Outcome is OutcomeCreated.
	TempCredential string
	At             time.Time
}

func (ProvisioningCompleted) EventName() string { return EventProvisioningCompleted }

// Publisher hands events to the external notification dispatcher.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Clock returns the current time. Tests replace it to pin coupon windows and
// review timestamps.
type Clock func() time.Time

func publish(ctx context.Context, p Publisher, log logrus.FieldLogger, event Event) {
	if err := p.Publish(ctx, event); err != nil {
		log.WithError(err).WithField("event", event.EventName()).Error("failed to publish event")
	}
}

func orStandard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return logrus.StandardLogger()
	}
	return log
}

func orNop(p Publisher) Publisher {
	if p == nil {
		return NopPublisher{}
	}
	return p
}
