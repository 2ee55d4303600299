/*
provision.go - Account Provisioning Service

PURPOSE:
  Given an approved registration, make sure a parent-role user account
  exists for the registration's email and link the two. Runs at most once
  per registration.

OUTCOMES:
  ┌──────────────────────────────┬──────────────────┬──────────────────────┐
  │ existing user for email      │ account mutation │ outcome              │
  ├──────────────────────────────┼──────────────────┼──────────────────────┤
  │ none                         │ create, parent   │ created (+temp cred) │
  │ exists without parent role   │ add parent role  │ role_added           │
  │ exists with parent role      │ none             │ mapping_added        │
  └──────────────────────────────┴──────────────────┴──────────────────────┘
  In every case the registration is linked to the account and
  LinkedUserAccountID + ProvisionOutcome are written.

IDEMPOTENCY:
  The registration row is the claim token. Reading it, creating or updating
  the account and writing LinkedUserAccountID happen in one store
  transaction under the row's version check. A second call, sequential or
  concurrent, sees the link and returns the stored outcome with
  AlreadyProvisioned set, without touching the account again.

SEE ALSO:
  - credentials.go: temporary credential generation and hashing
  - events.go: ProvisioningCompleted
*/
package enrollment

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// USER ACCOUNT
// =============================================================================

type Role string

const (
	RoleParent  Role = "parent"
	RoleTeacher Role = "teacher"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// UserAccount is the slice of the identity subsystem's user this engine touches.
type UserAccount struct {
	ID                 UserID
	Email              string
	Name               string
	Roles              []Role
	PasswordHash       string
	MustChangePassword bool
	Registrations      []RegistrationID
	CreatedAt          time.Time
}

func (u *UserAccount) HasRole(role Role) bool {
	return slices.Contains(u.Roles, role)
}

// Clone returns a deep copy.
func (u *UserAccount) Clone() *UserAccount {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	c.Registrations = slices.Clone(u.Registrations)
	return &c
}

// =============================================================================
// OUTCOME
// =============================================================================

// ProvisionOutcome is the closed set of provisioning results.
type ProvisionOutcome string

const (
	OutcomeCreated      ProvisionOutcome = "created"
	OutcomeRoleAdded    ProvisionOutcome = "role_added"
	OutcomeMappingAdded ProvisionOutcome = "mapping_added"
)

// ParseProvisionOutcome rejects anything outside the closed set.
func ParseProvisionOutcome(s string) (ProvisionOutcome, error) {
	switch o := ProvisionOutcome(s); o {
	case OutcomeCreated, OutcomeRoleAdded, OutcomeMappingAdded:
		return o, nil
	}
	return "", fmt.Errorf("unknown provision outcome %q", s)
}

// ProvisionResult is returned by Provision.
type ProvisionResult struct {
	Outcome            ProvisionOutcome
	UserAccountID      UserID
	AlreadyProvisioned bool
}

// =============================================================================
// PROVISIONER
// =============================================================================

type Provisioner struct {
	Store       TxStore
	Credentials CredentialIssuer
	Publisher   Publisher
	Clock       Clock
	Log         logrus.FieldLogger
	NewID       func() string
}

func NewProvisioner(store TxStore, credentials CredentialIssuer, publisher Publisher, log logrus.FieldLogger) *Provisioner {
	if credentials == nil {
		credentials = NewBcryptIssuer(0)
	}
	return &Provisioner{
		Store:       store,
		Credentials: credentials,
		Publisher:   orNop(publisher),
		Clock:       time.Now,
		Log:         orStandard(log),
		NewID:       uuid.NewString,
	}
}

// Provision creates or links the parent account for an approved registration.
func (p *Provisioner) Provision(ctx context.Context, id RegistrationID) (ProvisionResult, error) {
	var (
		result     ProvisionResult
		reg        *Registration
		credential string
	)

	err := p.Store.WithTx(ctx, func(tx Store) error {
		var err error
		reg, err = tx.GetRegistration(ctx, id)
		if err != nil {
			return err
		}
		if reg.Status != StatusApproved {
			return fmt.Errorf("registration %s has status %s: %w", reg.ID, reg.Status, ErrNotApproved)
		}
		if reg.IsProvisioned() {
			result = existingResult(reg)
			return nil
		}

		email := NormalizeEmail(reg.Candidate.Email)
		user, err := tx.FindUserByEmail(ctx, email)
		if err != nil {
			return err
		}

		now := p.Clock().UTC()
		switch {
		case user == nil:
			plain, hash, err := p.Credentials.Issue()
			if err != nil {
				return fmt.Errorf("failed to issue temporary credential: %w", err)
			}
			user = &UserAccount{
				ID:                 UserID(p.NewID()),
				Email:              email,
				Name:               guardianOrCandidate(reg.Candidate),
				Roles:              []Role{RoleParent},
				PasswordHash:       hash,
				MustChangePassword: true,
				CreatedAt:          now,
			}
			if err := tx.CreateUser(ctx, user); err != nil {
				return err
			}
			credential = plain
			result.Outcome = OutcomeCreated
		case !user.HasRole(RoleParent):
			if err := tx.AddUserRole(ctx, user.ID, RoleParent); err != nil {
				return err
			}
			result.Outcome = OutcomeRoleAdded
		default:
			result.Outcome = OutcomeMappingAdded
		}

		if err := tx.LinkUserRegistration(ctx, user.ID, reg.ID); err != nil {
			return err
		}

		userID := user.ID
		outcome := result.Outcome
		reg.LinkedUserAccountID = &userID
		reg.ProvisionOutcome = &outcome
		reg.UpdatedAt = now
		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		result.UserAccountID = userID
		return nil
	})
	if err != nil {
		return ProvisionResult{}, err
	}

	entry := p.Log.WithFields(logrus.Fields{
		"registration": reg.ID,
		"user":         result.UserAccountID,
		"outcome":      result.Outcome,
	})
	if result.AlreadyProvisioned {
		entry.Info("registration already provisioned")
		return result, nil
	}
	entry.Info("registration provisioned")

	publish(ctx, p.Publisher, p.Log, ProvisioningCompleted{
		RegistrationID: reg.ID,
		Outcome:        result.Outcome,
		Email:          NormalizeEmail(reg.Candidate.Email),
		UserAccountID:  result.UserAccountID,
		CandidateName:  reg.Candidate.Name,
		GuardianName:   reg.Candidate.GuardianName,
		TempCredential: credential,
		At:             reg.UpdatedAt,
	})
	return result, nil
}

func existingResult(reg *Registration) ProvisionResult {
	r := ProvisionResult{UserAccountID: *reg.LinkedUserAccountID, AlreadyProvisioned: true}
	if reg.ProvisionOutcome != nil {
		r.Outcome = *reg.ProvisionOutcome
	} else {
		// Linked before outcomes were recorded: no account change was needed.
		r.Outcome = OutcomeMappingAdded
	}
	return r
}

func guardianOrCandidate(c Candidate) string {
	if name := strings.TrimSpace(c.GuardianName); name != "" {
		return name
	}
	return c.Name
}
