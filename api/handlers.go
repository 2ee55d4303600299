/*
handlers.go - HTTP API handlers for the registration engine

PURPOSE:
  Exposes registration intake, the review dashboard actions, provisioning
  and coupon administration via REST. Handles HTTP request/response and
  JSON serialization, and delegates to the enrollment services.

ENDPOINTS:
  Registrations:
    POST   /api/registrations                 Submit enrollment form
    GET    /api/registrations                 List (?status=&program=&limit=&offset=)
    GET    /api/registrations/{id}            Get one
    PUT    /api/registrations/{id}            Edit candidate fields
    DELETE /api/registrations/{id}            Delete (?version=)
    POST   /api/registrations/{id}/review     Status transition with notes
    POST   /api/registrations/{id}/provision  Create/link parent account

  Coupons:
    GET    /api/coupons                       List
    POST   /api/coupons                       Create from factory.CouponJSON
    GET    /api/coupons/{code}                Get one
    POST   /api/coupons/{code}/activate       Set active
    POST   /api/coupons/{code}/deactivate     Clear active
    POST   /api/coupons/quote                 Validate + compute, no redemption

  Demo (only when Reset is set, see scenarios.go):
    GET    /api/scenarios
    GET    /api/scenarios/current
    POST   /api/scenarios/load

ERROR HANDLING:
  Domain errors are classified with enrollment.KindOf and mapped in errors.go:
  - 400: Malformed request body or query
  - 404: Coupon or registration not found
  - 409: Invalid transition, not approved, duplicate, version conflict
  - 422: Coupon rule failures, missing notes, invalid fields
  - 423: Registration approved and locked
  - 503: Store unavailable

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/registration-engine/enrollment"
	"github.com/warp/registration-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Registrations *enrollment.RegistrationService
	Reviews       *enrollment.ReviewService
	Provisioner   *enrollment.Provisioner
	Coupons       *enrollment.CouponLedger
	CouponFactory *factory.CouponFactory
	Log           logrus.FieldLogger

	// Ping reports store health; nil means always healthy.
	Ping func(ctx context.Context) error

	// Reset clears the store; nil disables the demo scenario routes.
	Reset func(ctx context.Context) error

	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler wires the services around a single store.
func NewHandler(store enrollment.TxStore, publisher enrollment.Publisher, log logrus.FieldLogger) *Handler {
	ledger := enrollment.NewCouponLedger(store, log)
	return &Handler{
		Registrations: enrollment.NewRegistrationService(store, ledger, log),
		Reviews:       enrollment.NewReviewService(store, publisher, log),
		Provisioner:   enrollment.NewProvisioner(store, nil, publisher, log),
		Coupons:       ledger,
		CouponFactory: factory.NewCouponFactory(),
		Log:           log,
	}
}

// Health reports liveness and store reachability.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REGISTRATION ENDPOINTS
// =============================================================================

// SubmitRegistration records a completed enrollment form.
// POST /api/registrations
func (h *Handler) SubmitRegistration(w http.ResponseWriter, r *http.Request) {
	var req SubmitRegistrationRequest
	if !decode(w, r, &req) {
		return
	}

	candidate, err := req.Candidate.toDomain()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	reg, err := h.Registrations.Submit(r.Context(), enrollment.SubmitInput{
		Candidate:  candidate,
		Program:    req.Program,
		BasePrice:  req.BasePrice,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegistrationDTO(reg))
}

// ListRegistrations returns registrations, newest first.
// GET /api/registrations?status=pending&program=KSS&limit=50&offset=0
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := enrollment.RegistrationFilter{Program: strings.TrimSpace(q.Get("program"))}

	if s := q.Get("status"); s != "" {
		status, err := enrollment.ParseStatus(s)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		filter.Status = status
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	regs, err := h.Registrations.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]RegistrationDTO, len(regs))
	for i := range regs {
		dtos[i] = toRegistrationDTO(&regs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRegistration returns one registration.
// GET /api/registrations/{id}
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id := enrollment.RegistrationID(chi.URLParam(r, "id"))
	reg, err := h.Registrations.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationDTO(reg))
}

// EditRegistration replaces the candidate fields.
// PUT /api/registrations/{id}
func (h *Handler) EditRegistration(w http.ResponseWriter, r *http.Request) {
	id := enrollment.RegistrationID(chi.URLParam(r, "id"))

	var req EditRegistrationRequest
	if !decode(w, r, &req) {
		return
	}
	candidate, err := req.Candidate.toDomain()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	reg, err := h.Registrations.Edit(r.Context(), id, candidate, req.Version)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationDTO(reg))
}

// DeleteRegistration removes a registration that is not approved.
// DELETE /api/registrations/{id}?version=3
func (h *Handler) DeleteRegistration(w http.ResponseWriter, r *http.Request) {
	id := enrollment.RegistrationID(chi.URLParam(r, "id"))

	var version *int64
	if s := r.URL.Query().Get("version"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid version", err)
			return
		}
		version = &v
	}

	if err := h.Registrations.Delete(r.Context(), id, version); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReviewRegistration applies a dashboard review action.
// POST /api/registrations/{id}/review
func (h *Handler) ReviewRegistration(w http.ResponseWriter, r *http.Request) {
	id := enrollment.RegistrationID(chi.URLParam(r, "id"))

	var req ReviewRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := enrollment.ParseStatus(req.TargetStatus)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	reg, err := h.Reviews.Review(r.Context(), enrollment.ReviewInput{
		RegistrationID:  id,
		Target:          target,
		Notes:           req.Notes,
		ActorID:         req.ActorID,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationDTO(reg))
}

// ProvisionRegistration creates or links the parent account.
// POST /api/registrations/{id}/provision
func (h *Handler) ProvisionRegistration(w http.ResponseWriter, r *http.Request) {
	id := enrollment.RegistrationID(chi.URLParam(r, "id"))

	result, err := h.Provisioner.Provision(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyProvisioned {
		status = http.StatusOK
	}
	writeJSON(w, status, ProvisionResponse{
		Outcome:            string(result.Outcome),
		UserAccountID:      string(result.UserAccountID),
		AlreadyProvisioned: result.AlreadyProvisioned,
	})
}

// =============================================================================
// COUPON ENDPOINTS
// =============================================================================

// ListCoupons returns all coupons ordered by code.
// GET /api/coupons
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.Coupons.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]CouponDTO, len(coupons))
	for i := range coupons {
		dtos[i] = toCouponDTO(&coupons[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCoupon stores a new coupon definition.
// POST /api/coupons
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req factory.CouponJSON
	if !decode(w, r, &req) {
		return
	}
	coupon, err := h.CouponFactory.Build(req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	created, err := h.Coupons.Create(r.Context(), coupon)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponDTO(created))
}

// GetCoupon returns one coupon.
// GET /api/coupons/{code}
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := h.Coupons.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDTO(coupon))
}

// ActivateCoupon sets the active flag.
// POST /api/coupons/{code}/activate
func (h *Handler) ActivateCoupon(w http.ResponseWriter, r *http.Request) {
	h.setCouponActive(w, r, true)
}

// DeactivateCoupon clears the active flag.
// POST /api/coupons/{code}/deactivate
func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	h.setCouponActive(w, r, false)
}

func (h *Handler) setCouponActive(w http.ResponseWriter, r *http.Request, active bool) {
	coupon, err := h.Coupons.SetActive(r.Context(), chi.URLParam(r, "code"), active)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDTO(coupon))
}

// QuoteCoupon validates a code and computes the discount without redeeming it.
// POST /api/coupons/quote
func (h *Handler) QuoteCoupon(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decode(w, r, &req) {
		return
	}

	quote, err := h.Coupons.Quote(r.Context(), req.Code, req.Program, req.BasePrice)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{
		Code:      quote.Coupon.Code,
		BasePrice: req.BasePrice,
		Discount:  quote.Breakdown.Discount,
		Payable:   quote.Breakdown.Payable,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, s, name string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, err)
		return 0, false
	}
	return n, true
}
