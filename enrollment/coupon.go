/*
coupon.go - Coupon definitions and the Coupon Ledger

PURPOSE:
  Stores coupon definitions and usage counters, validates a code against a
  program and purchase amount, and redeems one use.

VALIDATION ORDER (first failure wins):
  1. NotFound        - no coupon with the normalized code
  2. Inactive        - active flag is false
  3. OutOfWindow     - now outside [ValidFrom, ValidUntil]; nil bounds are open
  4. ProgramMismatch - coupon scoped to a different program (case-insensitive)
  5. BelowMinimum    - purchase amount < MinPurchase
  6. LimitReached    - UsageLimit set and UsageCount >= UsageLimit

VALIDATE vs REDEEM:
  Validate never writes. Redeem performs a compare-and-increment in the
  store, so the usage limit is re-checked atomically with the write. Two
  callers that both passed Validate cannot both push the count past the limit.

SEE ALSO:
  - discount.go: turns a validated coupon into an amount
  - service.go: redeems inside the submission transaction
*/
package enrollment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// COUPON
// =============================================================================

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// ParseDiscountType converts external input into a DiscountType.
func ParseDiscountType(s string) (DiscountType, bool) {
	switch dt := DiscountType(strings.ToLower(strings.TrimSpace(s))); dt {
	case DiscountPercentage, DiscountFixed:
		return dt, true
	}
	return "", false
}

type Coupon struct {
	Code        string
	Name        string
	Description string

	DiscountType  DiscountType
	DiscountValue Money

	// Optional constraints; nil means unconstrained.
	MinPurchase *Money
	MaxDiscount *Money // percentage coupons only
	UsageLimit  *int
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	Program     *string

	Active     bool
	UsageCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the definition invariants of a coupon before it is stored.
func (c Coupon) Validate() error {
	var fields []FieldError
	add := func(field, reason string) {
		fields = append(fields, FieldError{Field: field, Reason: reason})
	}

	if NormalizeCode(c.Code) == "" {
		add("code", "is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		add("name", "is required")
	}
	switch c.DiscountType {
	case DiscountPercentage:
		if c.DiscountValue.GreaterThan(NewMoney(100)) {
			add("discount_value", "must not exceed 100 for percentage coupons")
		}
	case DiscountFixed:
		if c.MaxDiscount != nil {
			add("max_discount", "only applies to percentage coupons")
		}
	default:
		add("discount_type", "must be percentage or fixed")
	}
	if !c.DiscountValue.IsPositive() {
		add("discount_value", "must be greater than 0")
	}
	if c.MinPurchase != nil && c.MinPurchase.IsNegative() {
		add("min_purchase", "must not be negative")
	}
	if c.MaxDiscount != nil && !c.MaxDiscount.IsPositive() {
		add("max_discount", "must be greater than 0")
	}
	if c.UsageLimit != nil && *c.UsageLimit < 1 {
		add("usage_limit", "must be at least 1")
	}
	if c.UsageLimit != nil && c.UsageCount > *c.UsageLimit {
		add("usage_count", "exceeds usage_limit")
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
		add("valid_until", "is before valid_from")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// InWindow reports whether at lies inside [ValidFrom, ValidUntil].
func (c Coupon) InWindow(at time.Time) bool {
	if c.ValidFrom != nil && at.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && at.After(*c.ValidUntil) {
		return false
	}
	return true
}

// AppliesTo reports whether the coupon may be used for program.
func (c Coupon) AppliesTo(program string) bool {
	if c.Program == nil || strings.TrimSpace(*c.Program) == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(*c.Program), strings.TrimSpace(program))
}

// IsExhausted reports whether the usage limit is met.
func (c Coupon) IsExhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// Remaining returns the uses left, or nil when unlimited.
func (c Coupon) Remaining() *int {
	if c.UsageLimit == nil {
		return nil
	}
	n := *c.UsageLimit - c.UsageCount
	if n < 0 {
		n = 0
	}
	return &n
}

// Check applies the validation rules in order. It does not touch the store.
func (c Coupon) Check(program string, amount Money, now time.Time) error {
	switch {
	case !c.Active:
		return &CouponError{Code: c.Code, Err: ErrCouponInactive}
	case !c.InWindow(now):
		return &CouponError{Code: c.Code, Err: ErrCouponOutOfWindow}
	case !c.AppliesTo(program):
		return &CouponError{Code: c.Code, Err: ErrProgramMismatch}
	case c.MinPurchase != nil && amount.LessThan(*c.MinPurchase):
		return &BelowMinimumError{Code: c.Code, Minimum: *c.MinPurchase, Amount: amount}
	case c.IsExhausted():
		return &CouponError{Code: c.Code, Err: ErrLimitReached}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Coupon) Clone() *Coupon {
	if c == nil {
		return nil
	}
	cp := *c
	cp.MinPurchase = clonePtr(c.MinPurchase)
	cp.MaxDiscount = clonePtr(c.MaxDiscount)
	cp.UsageLimit = clonePtr(c.UsageLimit)
	cp.ValidFrom = clonePtr(c.ValidFrom)
	cp.ValidUntil = clonePtr(c.ValidUntil)
	cp.Program = clonePtr(c.Program)
	return &cp
}

// =============================================================================
// COUPON LEDGER
// =============================================================================

type CouponLedger struct {
	Store CouponStore
	Clock Clock
	Log   logrus.FieldLogger
}

func NewCouponLedger(store CouponStore, log logrus.FieldLogger) *CouponLedger {
	return &CouponLedger{Store: store, Clock: time.Now, Log: orStandard(log)}
}

// Quote is a validated coupon with the discount it would give.
type Quote struct {
	Coupon    *Coupon
	Breakdown Breakdown
}

// Validate looks up code and applies the validation rules. No state changes.
func (l *CouponLedger) Validate(ctx context.Context, code, program string, amount Money) (*Coupon, error) {
	return l.validate(ctx, l.Store, code, program, amount)
}

func (l *CouponLedger) validate(ctx context.Context, store CouponStore, code, program string, amount Money) (*Coupon, error) {
	normalized := NormalizeCode(code)
	c, err := store.GetCoupon(ctx, normalized)
	if err != nil {
		return nil, wrapCouponErr(normalized, err)
	}
	if err := c.Check(program, amount, l.Clock()); err != nil {
		return nil, err
	}
	return c, nil
}

// Redeem consumes one use of code. The limit is re-checked by the store.
func (l *CouponLedger) Redeem(ctx context.Context, code string) (*Coupon, error) {
	return l.redeem(ctx, l.Store, code)
}

func (l *CouponLedger) redeem(ctx context.Context, store CouponStore, code string) (*Coupon, error) {
	normalized := NormalizeCode(code)
	c, err := store.IncrementCouponUsage(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrLimitReached) {
			l.Log.WithField("coupon", normalized).Info("coupon redemption refused: limit reached")
		}
		return nil, wrapCouponErr(normalized, err)
	}
	l.Log.WithFields(logrus.Fields{
		"coupon":      normalized,
		"usage_count": c.UsageCount,
	}).Info("coupon redeemed")
	return c, nil
}

// Quote validates code and computes the discount on basePrice without redeeming.
func (l *CouponLedger) Quote(ctx context.Context, code, program string, basePrice Money) (Quote, error) {
	c, err := l.Validate(ctx, code, program, basePrice)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Coupon: c, Breakdown: ComputePayable(basePrice, c)}, nil
}

// Create stores a new coupon definition with a zero usage count.
func (l *CouponLedger) Create(ctx context.Context, c Coupon) (*Coupon, error) {
	c.Code = NormalizeCode(c.Code)
	c.UsageCount = 0
	if err := c.Validate(); err != nil {
		return nil, err
	}
	now := l.Clock().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := l.Store.CreateCoupon(ctx, c); err != nil {
		return nil, wrapCouponErr(c.Code, err)
	}
	l.Log.WithFields(logrus.Fields{
		"coupon":        c.Code,
		"discount_type": c.DiscountType,
	}).Info("coupon created")
	return &c, nil
}

func (l *CouponLedger) Get(ctx context.Context, code string) (*Coupon, error) {
	normalized := NormalizeCode(code)
	c, err := l.Store.GetCoupon(ctx, normalized)
	if err != nil {
		return nil, wrapCouponErr(normalized, err)
	}
	return c, nil
}

func (l *CouponLedger) List(ctx context.Context) ([]Coupon, error) {
	return l.Store.ListCoupons(ctx)
}

// SetActive toggles the active flag.
func (l *CouponLedger) SetActive(ctx context.Context, code string, active bool) (*Coupon, error) {
	normalized := NormalizeCode(code)
	if err := l.Store.SetCouponActive(ctx, normalized, active); err != nil {
		return nil, wrapCouponErr(normalized, err)
	}
	l.Log.WithFields(logrus.Fields{"coupon": normalized, "active": active}).Info("coupon active flag changed")
	return l.Get(ctx, normalized)
}

func wrapCouponErr(code string, err error) error {
	var ce *CouponError
	if errors.As(err, &ce) {
		return err
	}
	for _, sentinel := range []error{ErrCouponNotFound, ErrLimitReached, ErrDuplicateCoupon} {
		if errors.Is(err, sentinel) {
			return &CouponError{Code: code, Err: sentinel}
		}
	}
	return err
}
