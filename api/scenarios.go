/*
scenarios.go - Demo scenario loaders for local runs and demonstrations

PURPOSE:
  Populates the store with realistic data for the dashboard: coupons,
  registrations in every status and existing user accounts, so each review
  and provisioning path can be tried by hand.

AVAILABLE SCENARIOS:
  early-bird:        Single-use EARLY10 already taken, SIBLING still free
  review-queue:      One registration in each status
  returning-parent:  A teacher enrolling a child (role_added) and a parent
                     enrolling a second child (mapping_added)

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create coupons through the coupon factory and ledger
 3. Submit registrations through the registration service
 4. Review (and provision) them through the services

USAGE VIA API:
  GET  /api/scenarios
  GET  /api/scenarios/current
  POST /api/scenarios/load  {"scenario_id": "review-queue"}

NOTE:
  Scenarios reset the store. They are only routed when Handler.Reset is
  set, which cmd/server does when demo.scenarios is enabled.

SEE ALSO:
  - handlers.go: Handler dependencies
  - factory/coupon.go: coupon JSON schema
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/warp/registration-engine/enrollment"
)

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(h *Handler, ctx context.Context) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "early-bird",
			Name:        "Early Bird",
			Description: "EARLY10 (10%, max 30000, KSS, single use) already redeemed; SIBLING fixed 50000 unused",
		},
		load: (*Handler).loadEarlyBirdScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "review-queue",
			Name:        "Review Queue",
			Description: "Registrations in pending, reviewed, approved and rejected status",
		},
		load: (*Handler).loadReviewQueueScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "returning-parent",
			Name:        "Returning Parent",
			Description: "Approved registrations for a teacher's child and a sibling, ready to provision",
		},
		load: (*Handler).loadReturningParentScenario,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the loaded scenario, or null.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	if err := h.Reset(ctx); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.currentScenario = ""

	if err := s.load(h, ctx); err != nil {
		h.requestLog(r).WithError(err).WithField("scenario", s.ID).Error("scenario load failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = s.ID

	h.requestLog(r).WithField("scenario", s.ID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEarlyBirdScenario(ctx context.Context) error {
	if err := h.createCouponsFromJSON(ctx, earlyBirdCoupon, siblingCoupon); err != nil {
		return err
	}
	_, err := h.submitDemo(ctx, "Aisyah Putri", "Budi Santoso", "budi@example.com", "EARLY10")
	return err
}

func (h *Handler) loadReviewQueueScenario(ctx context.Context) error {
	if err := h.createCouponsFromJSON(ctx, siblingCoupon); err != nil {
		return err
	}

	steps := []struct {
		child, guardian, email string
		coupon                 string
		reviews                []enrollment.Status
		notes                  string
	}{
		{"Raka Pratama", "Dewi Lestari", "dewi@example.com", "", nil, ""},
		{"Nadia Rahma", "Agus Salim", "agus@example.com", "", []enrollment.Status{enrollment.StatusReviewed}, "Dokumen diperiksa"},
		{"Fajar Nugroho", "Sri Wahyuni", "sri@example.com", "SIBLING", []enrollment.Status{enrollment.StatusReviewed, enrollment.StatusApproved}, "Data lengkap"},
		{"Putri Ayu", "Hendra Gunawan", "hendra@example.com", "", []enrollment.Status{enrollment.StatusRejected}, "Akta kelahiran belum dilampirkan"},
	}

	for _, s := range steps {
		reg, err := h.submitDemo(ctx, s.child, s.guardian, s.email, s.coupon)
		if err != nil {
			return err
		}
		for _, target := range s.reviews {
			if _, err := h.Reviews.Review(ctx, enrollment.ReviewInput{
				RegistrationID: reg.ID,
				Target:         target,
				Notes:          s.notes,
				ActorID:        "demo-staff",
			}); err != nil {
				return fmt.Errorf("review %s to %s: %w", reg.ID, target, err)
			}
		}
	}
	return nil
}

func (h *Handler) loadReturningParentScenario(ctx context.Context) error {
	// Teacher whose child enrolls: provisioning adds the parent role.
	if err := h.Provisioner.Store.CreateUser(ctx, &enrollment.UserAccount{
		ID:        enrollment.UserID(uuid.NewString()),
		Email:     "rina.guru@example.com",
		Name:      "Rina Kartika",
		Roles:     []enrollment.Role{enrollment.RoleTeacher},
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("create teacher: %w", err)
	}
	if _, err := h.submitApproved(ctx, "Bima Kartika", "Rina Kartika", "rina.guru@example.com"); err != nil {
		return err
	}

	// Parent with one provisioned child: the sibling gets a mapping only.
	first, err := h.submitApproved(ctx, "Salsa Wijaya", "Yusuf Wijaya", "yusuf@example.com")
	if err != nil {
		return err
	}
	if _, err := h.Provisioner.Provision(ctx, first.ID); err != nil {
		return fmt.Errorf("provision %s: %w", first.ID, err)
	}
	_, err = h.submitApproved(ctx, "Dimas Wijaya", "Yusuf Wijaya", "yusuf@example.com")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

const earlyBirdCoupon = `{
	"code": "EARLY10",
	"name": "Early bird",
	"description": "10% off for the first registration",
	"discount_type": "percentage",
	"discount_value": "10",
	"max_discount": "30000",
	"usage_limit": 1,
	"program": "KSS"
}`

const siblingCoupon = `{
	"code": "SIBLING",
	"name": "Sibling discount",
	"discount_type": "fixed",
	"discount_value": "50000",
	"min_purchase": "100000"
}`

func (h *Handler) createCouponsFromJSON(ctx context.Context, defs ...string) error {
	for _, def := range defs {
		c, err := h.CouponFactory.ParseCoupon(def)
		if err != nil {
			return err
		}
		if _, err := h.Coupons.Create(ctx, c); err != nil {
			return fmt.Errorf("create coupon %s: %w", c.Code, err)
		}
	}
	return nil
}

func (h *Handler) submitDemo(ctx context.Context, child, guardian, email, coupon string) (*enrollment.Registration, error) {
	reg, err := h.Registrations.Submit(ctx, enrollment.SubmitInput{
		Candidate: enrollment.Candidate{
			Name:         child,
			BirthDate:    time.Date(time.Now().Year()-6, time.March, 12, 0, 0, 0, 0, time.UTC),
			Gender:       enrollment.GenderFemale,
			GuardianName: guardian,
			Phone:        "081200000000",
			Email:        email,
			Address:      "Jl. Sukajadi 21, Bandung",
		},
		Program:    "KSS",
		BasePrice:  enrollment.MustParseMoney("350000"),
		CouponCode: coupon,
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", child, err)
	}
	return reg, nil
}

func (h *Handler) submitApproved(ctx context.Context, child, guardian, email string) (*enrollment.Registration, error) {
	reg, err := h.submitDemo(ctx, child, guardian, email, "")
	if err != nil {
		return nil, err
	}
	reg, err = h.Reviews.Review(ctx, enrollment.ReviewInput{
		RegistrationID: reg.ID,
		Target:         enrollment.StatusApproved,
		Notes:          "Data lengkap",
		ActorID:        "demo-staff",
	})
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", child, err)
	}
	return reg, nil
}
