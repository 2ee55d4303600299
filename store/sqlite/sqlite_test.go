package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/registration-engine/enrollment"
	"github.com/warp/registration-engine/notify"
	"github.com/warp/registration-engine/store/sqlite"
)

var testNow = time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func early10() enrollment.Coupon {
	limit := 1
	maxDiscount := enrollment.MustParseMoney("30000")
	program := "KSS"
	from := testNow.Add(-24 * time.Hour)
	return enrollment.Coupon{
		Code:          "EARLY10",
		Name:          "Early bird",
		DiscountType:  enrollment.DiscountPercentage,
		DiscountValue: enrollment.MustParseMoney("10"),
		MaxDiscount:   &maxDiscount,
		UsageLimit:    &limit,
		ValidFrom:     &from,
		Program:       &program,
		Active:        true,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

func candidate(email string) enrollment.Candidate {
	return enrollment.Candidate{
		Name:         "Aisyah Putri",
		BirthDate:    time.Date(2019, time.May, 14, 0, 0, 0, 0, time.UTC),
		Gender:       enrollment.GenderFemale,
		GuardianName: "Budi Santoso",
		Phone:        "081234567890",
		Email:        email,
		Address:      "Jl. Merdeka 10, Bandung",
	}
}

func pending(id, email string) *enrollment.Registration {
	return &enrollment.Registration{
		ID:        enrollment.RegistrationID(id),
		Candidate: candidate(email),
		Program:   "KSS",
		BasePrice: enrollment.MustParseMoney("350000"),
		Discount:  enrollment.ZeroMoney(),
		Payable:   enrollment.MustParseMoney("350000"),
		Status:    enrollment.StatusPending,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

// =============================================================================
// COUPONS
// =============================================================================

func TestCoupon_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	want := early10()
	require.NoError(t, s.CreateCoupon(ctx, want))

	got, err := s.GetCoupon(ctx, "early10")
	require.NoError(t, err)
	assert.Equal(t, "EARLY10", got.Code)
	assert.Equal(t, enrollment.DiscountPercentage, got.DiscountType)
	assert.True(t, got.DiscountValue.Equal(want.DiscountValue))
	require.NotNil(t, got.MaxDiscount)
	assert.True(t, got.MaxDiscount.Equal(*want.MaxDiscount))
	assert.Nil(t, got.MinPurchase)
	require.NotNil(t, got.UsageLimit)
	assert.Equal(t, 1, *got.UsageLimit)
	require.NotNil(t, got.ValidFrom)
	assert.True(t, got.ValidFrom.Equal(*want.ValidFrom))
	assert.Nil(t, got.ValidUntil)
	assert.Equal(t, "KSS", *got.Program)
	assert.True(t, got.Active)
	assert.True(t, got.CreatedAt.Equal(testNow))

	err = s.CreateCoupon(ctx, want)
	assert.ErrorIs(t, err, enrollment.ErrDuplicateCoupon)

	_, err = s.GetCoupon(ctx, "MISSING")
	assert.ErrorIs(t, err, enrollment.ErrCouponNotFound)
}

func TestCoupon_IncrementStopsAtLimit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateCoupon(ctx, early10()))

	c, err := s.IncrementCouponUsage(ctx, "EARLY10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsageCount)

	_, err = s.IncrementCouponUsage(ctx, "EARLY10")
	assert.ErrorIs(t, err, enrollment.ErrLimitReached)

	_, err = s.IncrementCouponUsage(ctx, "MISSING")
	assert.ErrorIs(t, err, enrollment.ErrCouponNotFound)

	stored, err := s.GetCoupon(ctx, "EARLY10")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
}

func TestCoupon_ConcurrentIncrementNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	c := early10()
	limit := 7
	c.UsageLimit = &limit
	require.NoError(t, s.CreateCoupon(ctx, c))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementCouponUsage(ctx, "EARLY10"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, ok)
	stored, err := s.GetCoupon(ctx, "EARLY10")
	require.NoError(t, err)
	assert.Equal(t, 7, stored.UsageCount)
}

func TestCoupon_SetActive(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateCoupon(ctx, early10()))

	require.NoError(t, s.SetCouponActive(ctx, "EARLY10", false))
	c, err := s.GetCoupon(ctx, "EARLY10")
	require.NoError(t, err)
	assert.False(t, c.Active)

	assert.ErrorIs(t, s.SetCouponActive(ctx, "MISSING", true), enrollment.ErrCouponNotFound)
}

// =============================================================================
// REGISTRATIONS
// =============================================================================

func TestRegistration_VersionedUpdate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r := pending("reg-1", "parent@example.com")
	require.NoError(t, s.CreateRegistration(ctx, r))
	assert.Equal(t, int64(1), r.Version)

	got, err := s.GetRegistration(ctx, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, r.Candidate.BirthDate, got.Candidate.BirthDate)
	assert.True(t, got.Payable.Equal(r.Payable))
	assert.Nil(t, got.CouponCode)

	got.Status = enrollment.StatusReviewed
	notes := "checked documents"
	got.ReviewNotes = &notes
	require.NoError(t, s.UpdateRegistration(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	// r still carries version 1
	r.Candidate.Address = "elsewhere"
	err = s.UpdateRegistration(ctx, r)
	assert.ErrorIs(t, err, enrollment.ErrConflict)

	stored, err := s.GetRegistration(ctx, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusReviewed, stored.Status)
	assert.Equal(t, "checked documents", *stored.ReviewNotes)
	assert.Equal(t, "Jl. Merdeka 10, Bandung", stored.Candidate.Address)

	missing := pending("nope", "x@example.com")
	missing.Version = 1
	assert.ErrorIs(t, s.UpdateRegistration(ctx, missing), enrollment.ErrRegistrationNotFound)
}

func TestRegistration_DeleteRefusesApproved(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r := pending("reg-1", "parent@example.com")
	require.NoError(t, s.CreateRegistration(ctx, r))
	r.Status = enrollment.StatusApproved
	require.NoError(t, s.UpdateRegistration(ctx, r))

	err := s.DeleteRegistration(ctx, "reg-1", r.Version)
	assert.ErrorIs(t, err, enrollment.ErrLocked)

	err = s.DeleteRegistration(ctx, "reg-1", 1)
	assert.ErrorIs(t, err, enrollment.ErrConflict)

	other := pending("reg-2", "other@example.com")
	require.NoError(t, s.CreateRegistration(ctx, other))
	require.NoError(t, s.DeleteRegistration(ctx, "reg-2", 1))
	_, err = s.GetRegistration(ctx, "reg-2")
	assert.ErrorIs(t, err, enrollment.ErrRegistrationNotFound)
}

func TestRegistration_ListFilters(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i, id := range []string{"a", "b", "c"} {
		r := pending(id, id+"@example.com")
		r.CreatedAt = testNow.Add(time.Duration(i) * time.Minute)
		if id == "c" {
			r.Program = "TK"
		}
		require.NoError(t, s.CreateRegistration(ctx, r))
	}

	all, err := s.ListRegistrations(ctx, enrollment.RegistrationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, enrollment.RegistrationID("c"), all[0].ID, "newest first")

	kss, err := s.ListRegistrations(ctx, enrollment.RegistrationFilter{Program: "kss"})
	require.NoError(t, err)
	assert.Len(t, kss, 2)

	page, err := s.ListRegistrations(ctx, enrollment.RegistrationFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, enrollment.RegistrationID("b"), page[0].ID)
}

// =============================================================================
// USERS
// =============================================================================

func TestUser_RolesAndLinks(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateRegistration(ctx, pending("reg-1", "guru@example.com")))

	require.NoError(t, s.CreateUser(ctx, &enrollment.UserAccount{
		ID:        "u-1",
		Email:     "Guru@Example.com",
		Name:      "Bu Guru",
		Roles:     []enrollment.Role{enrollment.RoleTeacher},
		CreatedAt: testNow,
	}))
	require.NoError(t, s.AddUserRole(ctx, "u-1", enrollment.RoleParent))
	require.NoError(t, s.AddUserRole(ctx, "u-1", enrollment.RoleParent))
	require.NoError(t, s.LinkUserRegistration(ctx, "u-1", "reg-1"))

	u, err := s.FindUserByEmail(ctx, "guru@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, enrollment.UserID("u-1"), u.ID)
	assert.Equal(t, []enrollment.Role{enrollment.RoleTeacher, enrollment.RoleParent}, u.Roles)
	assert.Equal(t, []enrollment.RegistrationID{"reg-1"}, u.Registrations)

	err = s.LinkUserRegistration(ctx, "u-1", "reg-1")
	assert.ErrorIs(t, err, enrollment.ErrConflict)

	err = s.CreateUser(ctx, &enrollment.UserAccount{ID: "u-2", Email: "guru@example.com", CreatedAt: testNow})
	assert.ErrorIs(t, err, enrollment.ErrConflict)

	none, err := s.FindUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, none)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateCoupon(ctx, early10()))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx enrollment.Store) error {
		if _, err := tx.IncrementCouponUsage(ctx, "EARLY10"); err != nil {
			return err
		}
		if err := tx.CreateRegistration(ctx, pending("reg-1", "a@example.com")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := s.GetCoupon(ctx, "EARLY10")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UsageCount)
	_, err = s.GetRegistration(ctx, "reg-1")
	assert.ErrorIs(t, err, enrollment.ErrRegistrationNotFound)
}

func TestReset_ClearsEveryTable(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateCoupon(ctx, early10()))
	require.NoError(t, s.CreateRegistration(ctx, pending("reg-1", "a@example.com")))
	require.NoError(t, s.CreateUser(ctx, &enrollment.UserAccount{
		ID:        "user-1",
		Email:     "a@example.com",
		Name:      "Budi Santoso",
		Roles:     []enrollment.Role{enrollment.RoleParent},
		CreatedAt: testNow,
	}))
	require.NoError(t, s.LinkUserRegistration(ctx, "user-1", "reg-1"))

	require.NoError(t, s.Reset(ctx))

	coupons, err := s.ListCoupons(ctx)
	require.NoError(t, err)
	assert.Empty(t, coupons)
	regs, err := s.ListRegistrations(ctx, enrollment.RegistrationFilter{})
	require.NoError(t, err)
	assert.Empty(t, regs)
	u, err := s.FindUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}

// GIVEN the services running on SQLite
// WHEN a registration is submitted with a coupon, approved and provisioned
// THEN every step persists and a repeat provisioning returns the stored outcome
func TestServices_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	log, _ := logtest.NewNullLogger()
	events := &notify.Recorder{}
	clock := func() time.Time { return testNow }

	ledger := enrollment.NewCouponLedger(s, log)
	ledger.Clock = clock
	_, err := ledger.Create(ctx, early10())
	require.NoError(t, err)

	regs := enrollment.NewRegistrationService(s, ledger, log)
	regs.Clock = clock
	reviews := enrollment.NewReviewService(s, events, log)
	reviews.Clock = clock
	prov := enrollment.NewProvisioner(s, enrollment.NewBcryptIssuer(bcrypt.MinCost), events, log)
	prov.Clock = clock

	reg, err := regs.Submit(ctx, enrollment.SubmitInput{
		Candidate:  candidate("parent@example.com"),
		Program:    "KSS",
		BasePrice:  enrollment.MustParseMoney("350000"),
		CouponCode: "EARLY10",
	})
	require.NoError(t, err)
	assert.True(t, reg.Payable.Equal(enrollment.MustParseMoney("320000")))

	_, err = regs.Submit(ctx, enrollment.SubmitInput{
		Candidate:  candidate("other@example.com"),
		Program:    "KSS",
		BasePrice:  enrollment.MustParseMoney("350000"),
		CouponCode: "EARLY10",
	})
	assert.ErrorIs(t, err, enrollment.ErrLimitReached)

	_, err = reviews.Review(ctx, enrollment.ReviewInput{
		RegistrationID: reg.ID, Target: enrollment.StatusApproved, Notes: "Data lengkap", ActorID: "staff-1",
	})
	require.NoError(t, err)

	first, err := prov.Provision(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.OutcomeCreated, first.Outcome)

	again, err := prov.Provision(ctx, reg.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyProvisioned)
	assert.Equal(t, first.UserAccountID, again.UserAccountID)

	stored, err := s.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusApproved, stored.Status)
	require.NotNil(t, stored.ProvisionOutcome)
	assert.Equal(t, enrollment.OutcomeCreated, *stored.ProvisionOutcome)
	assert.Len(t, events.Named(enrollment.EventProvisioningCompleted), 1)

	all, err := regs.List(ctx, enrollment.RegistrationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// =============================================================================
// DRIVER FAILURES
// =============================================================================

func newMockStore(t *testing.T) (*sqlite.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.NewWithDB(db), mock
}

func TestDriverErrors_BecomeUnavailable(t *testing.T) {
	ctx := context.Background()
	diskErr := errors.New("disk I/O error")

	t.Run("get coupon", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM coupons WHERE code").WillReturnError(diskErr)

		_, err := s.GetCoupon(ctx, "EARLY10")
		assert.ErrorIs(t, err, enrollment.ErrUnavailable)
		assert.ErrorIs(t, err, diskErr)
		assert.Equal(t, enrollment.KindUnavailable, enrollment.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redeem", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("UPDATE coupons").WillReturnError(diskErr)

		_, err := s.IncrementCouponUsage(ctx, "EARLY10")
		assert.ErrorIs(t, err, enrollment.ErrUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(diskErr)

		called := false
		err := s.WithTx(ctx, func(enrollment.Store) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, enrollment.ErrUnavailable)
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE coupons SET active").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(diskErr)

		err := s.WithTx(ctx, func(tx enrollment.Store) error {
			return tx.SetCouponActive(ctx, "EARLY10", false)
		})
		assert.ErrorIs(t, err, enrollment.ErrUnavailable)
		assert.True(t, enrollment.IsRetryable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("domain error rolls back", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE coupons SET active").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(tx enrollment.Store) error {
			return tx.SetCouponActive(ctx, "MISSING", false)
		})
		assert.ErrorIs(t, err, enrollment.ErrCouponNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectPing().WillReturnError(diskErr)

		err := s.Ping(ctx)
		assert.ErrorIs(t, err, enrollment.ErrUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
