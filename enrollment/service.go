/*
service.go - Registration Record Store operations

PURPOSE:
  Submission, edit, delete and listing of registrations. Submission is the
  one place where the coupon ledger, the discount calculator and the record
  store meet.

SUBMISSION (one store transaction):
  1. validate candidate fields, program and base price
  2. if a coupon code is given: validate against program and base price,
     then redeem (compare-and-increment)
  3. compute discount and payable
  4. persist as pending
  If any step fails nothing is kept, including the coupon use.

EDIT / DELETE:
  Refused with Locked once approved. Commercial fields never change after
  submission; Edit replaces candidate fields only.
*/
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SubmitInput is a completed enrollment form.
type SubmitInput struct {
	Candidate  Candidate
	Program    string
	BasePrice  Money
	CouponCode string
}

type RegistrationService struct {
	Store    TxStore
	Ledger   *CouponLedger
	Clock    Clock
	Log      logrus.FieldLogger
	NewID    func() string
	validate *validator.Validate
}

func NewRegistrationService(store TxStore, ledger *CouponLedger, log logrus.FieldLogger) *RegistrationService {
	if ledger == nil {
		ledger = NewCouponLedger(store, log)
	}
	return &RegistrationService{
		Store:    store,
		Ledger:   ledger,
		Clock:    time.Now,
		Log:      orStandard(log),
		NewID:    uuid.NewString,
		validate: newValidator(),
	}
}

// Submit records a new pending registration, redeeming the coupon if given.
func (s *RegistrationService) Submit(ctx context.Context, in SubmitInput) (*Registration, error) {
	candidate := in.Candidate.Normalize()
	program := strings.TrimSpace(in.Program)

	var fields []FieldError
	fields = append(fields, s.checkCandidate(candidate)...)
	if program == "" {
		fields = append(fields, FieldError{Field: "program", Reason: "is required"})
	}
	if in.BasePrice.IsNegative() {
		fields = append(fields, FieldError{Field: "base_price", Reason: "must not be negative"})
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	code := NormalizeCode(in.CouponCode)
	var reg *Registration

	err := s.Store.WithTx(ctx, func(tx Store) error {
		var coupon *Coupon
		if code != "" {
			if _, err := s.Ledger.validate(ctx, tx, code, program, in.BasePrice); err != nil {
				return err
			}
			redeemed, err := s.Ledger.redeem(ctx, tx, code)
			if err != nil {
				return err
			}
			coupon = redeemed
		}

		breakdown := ComputePayable(in.BasePrice, coupon)
		now := s.Clock().UTC()
		reg = &Registration{
			ID:        RegistrationID(s.NewID()),
			Candidate: candidate,
			Program:   program,
			BasePrice: in.BasePrice,
			Discount:  breakdown.Discount,
			Payable:   breakdown.Payable,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if coupon != nil {
			reg.CouponCode = &coupon.Code
		}
		return tx.CreateRegistration(ctx, reg)
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"registration": reg.ID,
		"program":      reg.Program,
		"coupon":       code,
		"payable":      reg.Payable,
	}).Info("registration submitted")
	return reg, nil
}

func (s *RegistrationService) Get(ctx context.Context, id RegistrationID) (*Registration, error) {
	return s.Store.GetRegistration(ctx, id)
}

func (s *RegistrationService) List(ctx context.Context, filter RegistrationFilter) ([]Registration, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, &ValidationError{Fields: []FieldError{{Field: "limit", Reason: "limit and offset must not be negative"}}}
	}
	return s.Store.ListRegistrations(ctx, filter)
}

// Edit replaces the candidate fields of a non-approved registration.
func (s *RegistrationService) Edit(ctx context.Context, id RegistrationID, candidate Candidate, expectedVersion *int64) (*Registration, error) {
	candidate = candidate.Normalize()
	if fields := s.checkCandidate(candidate); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	var reg *Registration
	err := s.Store.WithTx(ctx, func(tx Store) error {
		var err error
		reg, err = tx.GetRegistration(ctx, id)
		if err != nil {
			return err
		}
		if err := reg.CheckMutable(); err != nil {
			return err
		}
		if err := checkVersion(reg, expectedVersion); err != nil {
			return err
		}
		reg.Candidate = candidate
		reg.UpdatedAt = s.Clock().UTC()
		return tx.UpdateRegistration(ctx, reg)
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithField("registration", reg.ID).Info("registration edited")
	return reg, nil
}

// Delete removes a non-approved registration. A redeemed coupon use is not returned.
func (s *RegistrationService) Delete(ctx context.Context, id RegistrationID, expectedVersion *int64) error {
	err := s.Store.WithTx(ctx, func(tx Store) error {
		reg, err := tx.GetRegistration(ctx, id)
		if err != nil {
			return err
		}
		if err := reg.CheckMutable(); err != nil {
			return err
		}
		if err := checkVersion(reg, expectedVersion); err != nil {
			return err
		}
		return tx.DeleteRegistration(ctx, reg.ID, reg.Version)
	})
	if err != nil {
		return err
	}
	s.Log.WithField("registration", id).Info("registration deleted")
	return nil
}

func checkVersion(reg *Registration, expected *int64) error {
	if expected != nil && *expected != reg.Version {
		return fmt.Errorf("registration %s: version %d is stale: %w", reg.ID, *expected, ErrConflict)
	}
	return nil
}

// =============================================================================
// CANDIDATE VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *RegistrationService) checkCandidate(c Candidate) []FieldError {
	if s.validate == nil {
		s.validate = newValidator()
	}
	err := s.validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "candidate", Reason: err.Error()}}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Reason: reasonFor(fe)})
	}
	return fields
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "is invalid"
}
