/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Registration:
    CandidateDTO, SubmitRegistrationRequest, EditRegistrationRequest,
    RegistrationDTO, ReviewRequest, ProvisionResponse

  Coupon:
    CouponDTO (wraps factory.CouponJSON), QuoteRequest, QuoteResponse

DATES:
  birth_date is a calendar date (YYYY-MM-DD). Timestamps are RFC3339 UTC.
  Amounts are decimal strings.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/coupon.go: CouponJSON type
*/
package api

import (
	"strings"
	"time"

	"github.com/warp/registration-engine/enrollment"
	"github.com/warp/registration-engine/factory"
)

// =============================================================================
// REGISTRATIONS
// =============================================================================

// CandidateDTO is the candidate section of the enrollment form.
type CandidateDTO struct {
	Name           string `json:"name"`
	BirthDate      string `json:"birth_date"`
	Gender         string `json:"gender"`
	GuardianName   string `json:"guardian_name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Address        string `json:"address"`
	PreviousSchool string `json:"previous_school,omitempty"`
}

// SubmitRegistrationRequest is the body of POST /api/registrations.
type SubmitRegistrationRequest struct {
	Candidate  CandidateDTO     `json:"candidate"`
	Program    string           `json:"program"`
	BasePrice  enrollment.Money `json:"base_price"`
	CouponCode string           `json:"coupon_code,omitempty"`
}

// EditRegistrationRequest is the body of PUT /api/registrations/{id}.
type EditRegistrationRequest struct {
	Candidate CandidateDTO `json:"candidate"`
	Version   *int64       `json:"version,omitempty"`
}

// ReviewRequest is the body of POST /api/registrations/{id}/review.
type ReviewRequest struct {
	TargetStatus string `json:"target_status"`
	Notes        string `json:"notes"`
	ActorID      string `json:"actor_id"`
	Version      *int64 `json:"version,omitempty"`
}

// RegistrationDTO represents a registration in API responses.
type RegistrationDTO struct {
	ID                  string           `json:"id"`
	Candidate           CandidateDTO     `json:"candidate"`
	Program             string           `json:"program"`
	CouponCode          *string          `json:"coupon_code,omitempty"`
	BasePrice           enrollment.Money `json:"base_price"`
	Discount            enrollment.Money `json:"discount"`
	Payable             enrollment.Money `json:"payable"`
	Status              string           `json:"status"`
	AllowedTargets      []string         `json:"allowed_targets"`
	ReviewNotes         *string          `json:"review_notes,omitempty"`
	ReviewedBy          *string          `json:"reviewed_by,omitempty"`
	ReviewedAt          *string          `json:"reviewed_at,omitempty"`
	LinkedUserAccountID *string          `json:"linked_user_account_id,omitempty"`
	ProvisionOutcome    *string          `json:"provision_outcome,omitempty"`
	Version             int64            `json:"version"`
	CreatedAt           string           `json:"created_at"`
	UpdatedAt           string           `json:"updated_at"`
}

// ProvisionResponse is returned by POST /api/registrations/{id}/provision.
type ProvisionResponse struct {
	Outcome            string `json:"outcome"`
	UserAccountID      string `json:"user_account_id"`
	AlreadyProvisioned bool   `json:"already_provisioned"`
}

// =============================================================================
// COUPONS
// =============================================================================

// CouponDTO represents a coupon in API responses.
type CouponDTO struct {
	factory.CouponJSON
	UsageCount int    `json:"usage_count"`
	Remaining  *int   `json:"remaining,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// QuoteRequest is the body of POST /api/coupons/quote.
type QuoteRequest struct {
	Code      string           `json:"code"`
	Program   string           `json:"program"`
	BasePrice enrollment.Money `json:"base_price"`
}

// QuoteResponse shows what a coupon would do without redeeming it.
type QuoteResponse struct {
	Code      string           `json:"code"`
	BasePrice enrollment.Money `json:"base_price"`
	Discount  enrollment.Money `json:"discount"`
	Payable   enrollment.Money `json:"payable"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (c CandidateDTO) toDomain() (enrollment.Candidate, error) {
	var birth time.Time
	if s := strings.TrimSpace(c.BirthDate); s != "" {
		var err error
		birth, err = time.Parse(time.DateOnly, s)
		if err != nil {
			return enrollment.Candidate{}, &enrollment.ValidationError{Fields: []enrollment.FieldError{
				{Field: "birth_date", Reason: "must be a date in YYYY-MM-DD format"},
			}}
		}
	}
	return enrollment.Candidate{
		Name:           c.Name,
		BirthDate:      birth,
		Gender:         enrollment.Gender(strings.ToLower(strings.TrimSpace(c.Gender))),
		GuardianName:   c.GuardianName,
		Phone:          c.Phone,
		Email:          c.Email,
		Address:        c.Address,
		PreviousSchool: c.PreviousSchool,
	}, nil
}

func toCandidateDTO(c enrollment.Candidate) CandidateDTO {
	dto := CandidateDTO{
		Name:           c.Name,
		Gender:         string(c.Gender),
		GuardianName:   c.GuardianName,
		Phone:          c.Phone,
		Email:          c.Email,
		Address:        c.Address,
		PreviousSchool: c.PreviousSchool,
	}
	if !c.BirthDate.IsZero() {
		dto.BirthDate = c.BirthDate.Format(time.DateOnly)
	}
	return dto
}

func toRegistrationDTO(r *enrollment.Registration) RegistrationDTO {
	targets := enrollment.AllowedTargets(r.Status)
	dto := RegistrationDTO{
		ID:             string(r.ID),
		Candidate:      toCandidateDTO(r.Candidate),
		Program:        r.Program,
		CouponCode:     r.CouponCode,
		BasePrice:      r.BasePrice,
		Discount:       r.Discount,
		Payable:        r.Payable,
		Status:         string(r.Status),
		AllowedTargets: make([]string, len(targets)),
		ReviewNotes:    r.ReviewNotes,
		ReviewedBy:     r.ReviewedBy,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for i, t := range targets {
		dto.AllowedTargets[i] = string(t)
	}
	if r.ReviewedAt != nil {
		dto.ReviewedAt = strPtr(r.ReviewedAt.UTC().Format(time.RFC3339))
	}
	if r.LinkedUserAccountID != nil {
		dto.LinkedUserAccountID = strPtr(string(*r.LinkedUserAccountID))
	}
	if r.ProvisionOutcome != nil {
		dto.ProvisionOutcome = strPtr(string(*r.ProvisionOutcome))
	}
	return dto
}

func toCouponDTO(c *enrollment.Coupon) CouponDTO {
	dto := CouponDTO{
		CouponJSON: factory.ToJSON(*c),
		UsageCount: c.UsageCount,
		Remaining:  c.Remaining(),
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func strPtr(s string) *string {
	return &s
}
