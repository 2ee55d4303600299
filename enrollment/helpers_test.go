package enrollment_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/registration-engine/enrollment"
	"github.com/warp/registration-engine/enrollment/store"
	"github.com/warp/registration-engine/notify"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type fixture struct {
	store       *store.Memory
	events      *notify.Recorder
	log         *logrus.Logger
	ledger      *enrollment.CouponLedger
	regs        *enrollment.RegistrationService
	reviews     *enrollment.ReviewService
	provisioner *enrollment.Provisioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	mem := store.NewMemory()
	events := &notify.Recorder{}

	ledger := enrollment.NewCouponLedger(mem, log)
	ledger.Clock = fixedClock

	regs := enrollment.NewRegistrationService(mem, ledger, log)
	regs.Clock = fixedClock

	reviews := enrollment.NewReviewService(mem, events, log)
	reviews.Clock = fixedClock

	prov := enrollment.NewProvisioner(mem, enrollment.NewBcryptIssuer(bcrypt.MinCost), events, log)
	prov.Clock = fixedClock

	return &fixture{
		store:       mem,
		events:      events,
		log:         log,
		ledger:      ledger,
		regs:        regs,
		reviews:     reviews,
		provisioner: prov,
	}
}

func money(s string) enrollment.Money {
	return enrollment.MustParseMoney(s)
}

func moneyPtr(s string) *enrollment.Money {
	m := money(s)
	return &m
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func candidate(email string) enrollment.Candidate {
	return enrollment.Candidate{
		Name:         "Aisyah Putri",
		BirthDate:    time.Date(2018, time.May, 12, 0, 0, 0, 0, time.UTC),
		Gender:       enrollment.GenderFemale,
		GuardianName: "Budi Santoso",
		Phone:        "081234567890",
		Email:        email,
		Address:      "Jl. Merdeka 10, Bandung",
	}
}

// early10 is 10% off, capped at 30000, KSS only, single use.
func early10() enrollment.Coupon {
	return enrollment.Coupon{
		Code:          "EARLY10",
		Name:          "Early bird",
		DiscountType:  enrollment.DiscountPercentage,
		DiscountValue: money("10"),
		MaxDiscount:   moneyPtr("30000"),
		UsageLimit:    intPtr(1),
		Program:       strPtr("KSS"),
		Active:        true,
	}
}

func (f *fixture) createCoupon(t *testing.T, c enrollment.Coupon) *enrollment.Coupon {
	t.Helper()
	created, err := f.ledger.Create(context.Background(), c)
	require.NoError(t, err)
	return created
}

func (f *fixture) submit(t *testing.T, email, coupon string) *enrollment.Registration {
	t.Helper()
	reg, err := f.regs.Submit(context.Background(), enrollment.SubmitInput{
		Candidate:  candidate(email),
		Program:    "KSS",
		BasePrice:  money("350000"),
		CouponCode: coupon,
	})
	require.NoError(t, err)
	return reg
}

func (f *fixture) approve(t *testing.T, id enrollment.RegistrationID) *enrollment.Registration {
	t.Helper()
	reg, err := f.reviews.Review(context.Background(), enrollment.ReviewInput{
		RegistrationID: id,
		Target:         enrollment.StatusApproved,
		Notes:          "Data lengkap",
		ActorID:        "staff-1",
	})
	require.NoError(t, err)
	return reg
}
