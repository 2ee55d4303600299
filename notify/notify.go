/*
Package notify provides enrollment.Publisher adapters.

The notification dispatcher that composes and sends emails is an external
collaborator. These adapters hand it events or stand in for it:

  LogPublisher  writes each event as a structured log entry (credential redacted)
  Recorder      keeps events in memory, for tests and local runs
  Multi         fans one event out to several publishers
*/
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/warp/registration-engine/enrollment"
)

const redacted = "[REDACTED]"

// =============================================================================
// LOG PUBLISHER
// =============================================================================

type LogPublisher struct {
	Log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{Log: log}
}

func (p *LogPublisher) Publish(_ context.Context, event enrollment.Event) error {
	fields := logrus.Fields{"event": event.EventName()}

	switch e := event.(type) {
	case enrollment.ReviewCompleted:
		fields["registration"] = e.Registration.ID
		fields["from"] = e.PrevStatus
		fields["to"] = e.NewStatus
		fields["actor"] = e.ActorID
		fields["email"] = e.Registration.Candidate.Email
	case enrollment.ProvisioningCompleted:
		fields["registration"] = e.RegistrationID
		fields["outcome"] = e.Outcome
		fields["user"] = e.UserAccountID
		fields["email"] = e.Email
		if e.TempCredential != "" {
			fields["temp_credential"] = redacted
		}
	}

	p.Log.WithFields(fields).Info("notification event")
	return nil
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder stores published events. Set Err to make Publish fail.
type Recorder struct {
	mu     sync.Mutex
	events []enrollment.Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, event enrollment.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []enrollment.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]enrollment.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []enrollment.Event {
	var out []enrollment.Event
	for _, e := range r.Events() {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi publishes to every publisher and joins their errors.
type Multi []enrollment.Publisher

func (m Multi) Publish(ctx context.Context, event enrollment.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
