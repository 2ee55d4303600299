/*
store.go - Persistence ports for coupons, registrations and user accounts

PURPOSE:
  Defines the interface between the engine and the database. Services only
  depend on these interfaces; implementations live in enrollment/store
  (in-memory) and store/sqlite.

CONCURRENCY CONTRACT:
  - IncrementCouponUsage is a compare-and-increment: it succeeds only while
    usage_count < usage_limit, checked and written as one atomic step.
  - UpdateRegistration and DeleteRegistration compare the caller's Version
    with the stored one and return ErrConflict on mismatch. On success
    UpdateRegistration bumps r.Version.
  - DeleteRegistration refuses approved rows with ErrLocked.
  - WithTx runs fn atomically. If fn returns an error nothing it wrote is kept.

ERRORS:
  Infrastructure failures are returned as *UnavailableError.

IMPLEMENTATIONS:
  - enrollment/store/memory.go: In-memory for tests and local runs
  - store/sqlite/sqlite.go: SQLite
*/
package enrollment

import "context"

// CouponStore persists coupon definitions and usage counters.
type CouponStore interface {
	// CreateCoupon inserts a new coupon. Returns ErrDuplicateCoupon if the code exists.
	CreateCoupon(ctx context.Context, c Coupon) error

	// GetCoupon looks up a coupon by normalized code. Returns ErrCouponNotFound.
	GetCoupon(ctx context.Context, code string) (*Coupon, error)

	ListCoupons(ctx context.Context) ([]Coupon, error)

	SetCouponActive(ctx context.Context, code string, active bool) error

	// IncrementCouponUsage consumes one use and returns the updated coupon.
	// Returns ErrLimitReached when the limit is already met.
	IncrementCouponUsage(ctx context.Context, code string) (*Coupon, error)
}

// RegistrationStore persists registrations.
type RegistrationStore interface {
	CreateRegistration(ctx context.Context, r *Registration) error

	// GetRegistration returns ErrRegistrationNotFound when absent.
	GetRegistration(ctx context.Context, id RegistrationID) (*Registration, error)

	ListRegistrations(ctx context.Context, filter RegistrationFilter) ([]Registration, error)

	// UpdateRegistration writes r if the stored version equals r.Version.
	UpdateRegistration(ctx context.Context, r *Registration) error

	// DeleteRegistration removes a non-approved registration at the given version.
	DeleteRegistration(ctx context.Context, id RegistrationID, version int64) error
}

// AccountStore reads and writes user accounts owned by the identity subsystem.
type AccountStore interface {
	// FindUserByEmail returns (nil, nil) when no user has the email.
	FindUserByEmail(ctx context.Context, email string) (*UserAccount, error)

	// GetUser returns (nil, nil) when absent.
	GetUser(ctx context.Context, id UserID) (*UserAccount, error)

	CreateUser(ctx context.Context, u *UserAccount) error

	AddUserRole(ctx context.Context, id UserID, role Role) error

	LinkUserRegistration(ctx context.Context, id UserID, registrationID RegistrationID) error
}

// Store is the full persistence surface.
type Store interface {
	CouponStore
	RegistrationStore
	AccountStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
