/*
handlers_test.go - HTTP tests for the registration and coupon endpoints

Tests for:
- Submit -> review -> provision flow through the router
- Error kind to status mapping (404, 409, 422, 423)
- Coupon administration and quote
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/registration-engine/enrollment"
	"github.com/warp/registration-engine/enrollment/store"
	"github.com/warp/registration-engine/notify"
)

type testServer struct {
	router http.Handler
	h      *Handler
	events *notify.Recorder
	hook   *logtest.Hook
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	events := &notify.Recorder{}
	h := NewHandler(store.NewMemory(), events, log)
	h.Provisioner.Credentials = enrollment.NewBcryptIssuer(bcrypt.MinCost)
	return &testServer{router: NewRouter(h, nil), h: h, events: events, hook: hook}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func submitRequest(email, coupon string) SubmitRegistrationRequest {
	return SubmitRegistrationRequest{
		Candidate: CandidateDTO{
			Name:         "Aisyah Putri",
			BirthDate:    "2019-05-14",
			Gender:       "female",
			GuardianName: "Budi Santoso",
			Phone:        "081234567890",
			Email:        email,
			Address:      "Jl. Merdeka 10, Bandung",
		},
		Program:    "KSS",
		BasePrice:  enrollment.MustParseMoney("350000"),
		CouponCode: coupon,
	}
}

const early10JSON = `{
	"code": "early10",
	"name": "Early bird",
	"discount_type": "percentage",
	"discount_value": "10",
	"max_discount": "30000",
	"usage_limit": 1,
	"program": "KSS"
}`

// =============================================================================
// REGISTRATION FLOW
// =============================================================================

// GIVEN a single-use EARLY10 coupon
// WHEN a registration is submitted, approved and provisioned over HTTP
// THEN each step answers with the expected status and body
func TestRegistrationFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/coupons", early10JSON)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/registrations", submitRequest("parent@example.com", "EARLY10"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decodeBody[RegistrationDTO](t, rec)
	assert.Equal(t, "pending", reg.Status)
	assert.Equal(t, "2019-05-14", reg.Candidate.BirthDate)
	assert.True(t, reg.Discount.Equal(enrollment.MustParseMoney("30000")))
	assert.True(t, reg.Payable.Equal(enrollment.MustParseMoney("320000")))
	assert.ElementsMatch(t, []string{"reviewed", "approved", "rejected"}, reg.AllowedTargets)

	// Second use of the single-use coupon
	rec = s.do(t, http.MethodPost, "/api/registrations", submitRequest("other@example.com", "EARLY10"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errResp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, string(enrollment.KindLimitReached), errResp.Kind)
	assert.Equal(t, enrollment.Message(enrollment.KindLimitReached), errResp.Error)

	// Approve without notes
	rec = s.do(t, http.MethodPost, "/api/registrations/"+reg.ID+"/review", ReviewRequest{
		TargetStatus: "approved", ActorID: "staff-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(enrollment.KindMissingNotes), decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodPost, "/api/registrations/"+reg.ID+"/review", ReviewRequest{
		TargetStatus: "approved", Notes: "Data lengkap", ActorID: "staff-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody[RegistrationDTO](t, rec)
	assert.Equal(t, "approved", approved.Status)
	assert.Empty(t, approved.AllowedTargets)
	require.NotNil(t, approved.ReviewNotes)
	assert.Equal(t, "Data lengkap", *approved.ReviewNotes)

	// Terminal
	rec = s.do(t, http.MethodPost, "/api/registrations/"+reg.ID+"/review", ReviewRequest{
		TargetStatus: "rejected", Notes: "changed my mind", ActorID: "staff-2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Locked
	rec = s.do(t, http.MethodPut, "/api/registrations/"+reg.ID, EditRegistrationRequest{
		Candidate: submitRequest("parent@example.com", "").Candidate,
	})
	assert.Equal(t, http.StatusLocked, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/registrations/"+reg.ID, nil)
	assert.Equal(t, http.StatusLocked, rec.Code)

	// Provision twice
	rec = s.do(t, http.MethodPost, "/api/registrations/"+reg.ID+"/provision", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[ProvisionResponse](t, rec)
	assert.Equal(t, "created", first.Outcome)
	assert.False(t, first.AlreadyProvisioned)

	rec = s.do(t, http.MethodPost, "/api/registrations/"+reg.ID+"/provision", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[ProvisionResponse](t, rec)
	assert.Equal(t, first.UserAccountID, second.UserAccountID)
	assert.True(t, second.AlreadyProvisioned)

	rec = s.do(t, http.MethodGet, "/api/registrations/"+reg.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[RegistrationDTO](t, rec)
	require.NotNil(t, got.LinkedUserAccountID)
	assert.Equal(t, first.UserAccountID, *got.LinkedUserAccountID)
	assert.Equal(t, "created", *got.ProvisionOutcome)

	assert.Len(t, s.events.Named(enrollment.EventReviewCompleted), 1)
	assert.Len(t, s.events.Named(enrollment.EventProvisioningCompleted), 1)
}

func TestSubmitRegistration_InvalidFields(t *testing.T) {
	s := newTestServer(t)
	req := submitRequest("not-an-email", "")
	req.Candidate.BirthDate = "14/05/2019"

	rec := s.do(t, http.MethodPost, "/api/registrations", req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Kind    string                  `json:"kind"`
		Details []enrollment.FieldError `json:"details"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(enrollment.KindInvalidInput), resp.Kind)
	require.Len(t, resp.Details, 1)
	assert.Equal(t, "birth_date", resp.Details[0].Field)
}

func TestSubmitRegistration_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/registrations", `{"candidate": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegistration_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/registrations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(enrollment.KindRegistrationNotFound), decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodPost, "/api/registrations/missing/provision", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProvision_RequiresApproval(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/registrations", submitRequest("parent@example.com", ""))
	require.Equal(t, http.StatusCreated, rec.Code)
	reg := decodeBody[RegistrationDTO](t, rec)

	rec = s.do(t, http.MethodPost, "/api/registrations/"+reg.ID+"/provision", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(enrollment.KindNotApproved), decodeBody[ErrorResponse](t, rec).Kind)
}

func TestEditAndDelete_WithVersion(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/registrations", submitRequest("parent@example.com", ""))
	require.Equal(t, http.StatusCreated, rec.Code)
	reg := decodeBody[RegistrationDTO](t, rec)

	edit := EditRegistrationRequest{Candidate: reg.Candidate, Version: &reg.Version}
	edit.Candidate.Address = "Jl. Asia Afrika 5, Bandung"
	rec = s.do(t, http.MethodPut, "/api/registrations/"+reg.ID, edit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decodeBody[RegistrationDTO](t, rec)
	assert.Equal(t, "Jl. Asia Afrika 5, Bandung", edited.Candidate.Address)
	assert.Equal(t, reg.Version+1, edited.Version)

	// The first version is stale now
	rec = s.do(t, http.MethodPut, "/api/registrations/"+reg.ID, edit)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/registrations/"+reg.ID+"?version=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/registrations/"+reg.ID+"?version=2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/registrations/"+reg.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRegistrations(t *testing.T) {
	s := newTestServer(t)
	for _, email := range []string{"a@example.com", "b@example.com"} {
		rec := s.do(t, http.MethodPost, "/api/registrations", submitRequest(email, ""))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/registrations?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]RegistrationDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/registrations?status=approved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]RegistrationDTO](t, rec))

	rec = s.do(t, http.MethodGet, "/api/registrations?status=archived", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/registrations?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// COUPONS
// =============================================================================

func TestCouponEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/coupons", early10JSON)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[CouponDTO](t, rec)
	assert.Equal(t, "EARLY10", created.Code)
	require.NotNil(t, created.Remaining)
	assert.Equal(t, 1, *created.Remaining)

	rec = s.do(t, http.MethodPost, "/api/coupons", early10JSON)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/coupons", `{"code": "BAD", "name": "x", "discount_type": "percentage", "discount_value": "150"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/coupons/quote", QuoteRequest{
		Code: "early10", Program: "KSS", BasePrice: enrollment.MustParseMoney("350000"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decodeBody[QuoteResponse](t, rec)
	assert.Equal(t, "EARLY10", quote.Code)
	assert.True(t, quote.Discount.Equal(enrollment.MustParseMoney("30000")))
	assert.True(t, quote.Payable.Equal(enrollment.MustParseMoney("320000")))

	rec = s.do(t, http.MethodPost, "/api/coupons/quote", QuoteRequest{
		Code: "EARLY10", Program: "TK", BasePrice: enrollment.MustParseMoney("350000"),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(enrollment.KindProgramMismatch), decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodPost, "/api/coupons/EARLY10/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deactivated := decodeBody[CouponDTO](t, rec)
	require.NotNil(t, deactivated.Active)
	assert.False(t, *deactivated.Active)

	rec = s.do(t, http.MethodPost, "/api/registrations", submitRequest("parent@example.com", "EARLY10"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(enrollment.KindInactive), decodeBody[ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodPost, "/api/coupons/EARLY10/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/coupons/early10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeBody[CouponDTO](t, rec).UsageCount, "quotes never redeem")

	rec = s.do(t, http.MethodGet, "/api/coupons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]CouponDTO](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/coupons/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// HEALTH AND ERROR MAPPING
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.h.Ping = func(context.Context) error {
		return enrollment.Unavailable("ping", errors.New("database is locked"))
	}
	rec = s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Nil(t, resp.Details, "infrastructure details stay in the log")

	var logged bool
	for _, e := range s.hook.AllEntries() {
		if e.Message == "request failed" && strings.Contains(e.Data["error"].(error).Error(), "database is locked") {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind enrollment.ErrorKind
		want int
	}{
		{enrollment.KindNotFound, http.StatusNotFound},
		{enrollment.KindLimitReached, http.StatusUnprocessableEntity},
		{enrollment.KindMissingNotes, http.StatusUnprocessableEntity},
		{enrollment.KindInvalidTransition, http.StatusConflict},
		{enrollment.KindLocked, http.StatusLocked},
		{enrollment.KindConflict, http.StatusConflict},
		{enrollment.KindUnavailable, http.StatusServiceUnavailable},
		{enrollment.KindInternal, http.StatusInternalServerError},
		{"made_up", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.kind), string(tt.kind))
	}
}
