/*
Package enrollment provides the registration lifecycle and discount engine.

PURPOSE:
  A candidate registration moves from submission through staff review to
  approval or rejection. On submission an optional coupon is validated,
  redeemed and turned into a discount. After approval a parent-role user
  account is provisioned exactly once.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: a currency amount backed by decimal.Decimal

DESIGN PRINCIPLES:
  1. Precision: money never touches binary floating point
  2. Closed variants: statuses, discount types and provisioning outcomes are
     typed constants parsed at the boundary
  3. Single writer: every registration write carries a version check
  4. Ports: persistence and notification are interfaces (store.go, events.go)

SEE ALSO:
  - coupon.go: Coupon Ledger
  - discount.go: Discount Calculator
  - review.go: Review State Machine
  - provision.go: Account Provisioning Service
*/
package enrollment

import (
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept on computed amounts.
const MoneyScale int32 = 2

// Money is a non-floating currency amount.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(units int64) Money {
	return Money{Value: decimal.NewFromInt(units)}
}

// ParseMoney parses a decimal string such as "350000" or "12500.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for literals; it panics on malformed input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) IsZero() bool { return m.Value.IsZero() }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }
func (m Money) LessThan(o Money) bool { return m.Value.LessThan(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) Equal(o Money) bool { return m.Value.Equal(o.Value) }
func (m Money) Truncate() Money { return Money{Value: m.Value.Truncate(MoneyScale)} }
func (m Money) String() string { return m.Value.String() }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

// Percent returns pct percent of m, truncated to MoneyScale.
func (m Money) Percent(pct Money) Money {
	return Money{Value: m.Value.Mul(pct.Value).Div(decimal.NewFromInt(100)).Truncate(MoneyScale)}
}

func (m Money) MarshalJSON() ([]byte, error) {
	return m.Value.MarshalJSON()
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Value.UnmarshalJSON(data)
}
