/*
Package factory provides JSON to Go coupon conversion.

PURPOSE:
  Converts JSON coupon definitions into enrollment.Coupon values. The admin
  API accepts the same schema, and a seed file in this schema can be loaded
  at startup so a fresh database has the school's standing coupons.

JSON SCHEMA:
  {
    "code": "EARLY10",
    "name": "Early bird",
    "discount_type": "percentage",
    "discount_value": "10",
    "max_discount": "30000",
    "usage_limit": 1,
    "program": "KSS",
    "valid_from": "2025-01-01T00:00:00Z",
    "valid_until": "2025-03-31T23:59:59Z"
  }
  Amounts are decimal strings (or JSON numbers). "active" defaults to true.

USAGE:
  f := factory.NewCouponFactory()
  coupon, err := f.ParseCoupon(jsonString)
  coupons, err := f.LoadFile("coupons.json")

SEE ALSO:
  - enrollment/coupon.go: Coupon type and definition rules
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/warp/registration-engine/enrollment"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CouponJSON is the JSON representation of a coupon.
type CouponJSON struct {
	Code          string            `json:"code"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	DiscountType  string            `json:"discount_type"`
	DiscountValue enrollment.Money  `json:"discount_value"`
	MinPurchase   *enrollment.Money `json:"min_purchase,omitempty"`
	MaxDiscount   *enrollment.Money `json:"max_discount,omitempty"` // percentage only
	UsageLimit    *int              `json:"usage_limit,omitempty"`
	ValidFrom     *time.Time        `json:"valid_from,omitempty"`
	ValidUntil    *time.Time        `json:"valid_until,omitempty"`
	Program       *string           `json:"program,omitempty"`
	Active        *bool             `json:"active,omitempty"` // default true
}

// =============================================================================
// COUPON FACTORY
// =============================================================================

// CouponFactory converts JSON coupons to enrollment.Coupon.
type CouponFactory struct{}

func NewCouponFactory() *CouponFactory {
	return &CouponFactory{}
}

// ParseCoupon parses and validates a single JSON coupon definition.
func (f *CouponFactory) ParseCoupon(jsonStr string) (enrollment.Coupon, error) {
	var cj CouponJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return enrollment.Coupon{}, fmt.Errorf("invalid coupon JSON: %w", err)
	}
	return f.Build(cj)
}

// ParseCoupons parses a JSON array of coupon definitions.
func (f *CouponFactory) ParseCoupons(data []byte) ([]enrollment.Coupon, error) {
	var list []CouponJSON
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("invalid coupon list JSON: %w", err)
	}

	coupons := make([]enrollment.Coupon, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, cj := range list {
		c, err := f.Build(cj)
		if err != nil {
			return nil, fmt.Errorf("coupon #%d (%s): %w", i, cj.Code, err)
		}
		if seen[c.Code] {
			return nil, fmt.Errorf("coupon #%d: %w", i, &enrollment.CouponError{Code: c.Code, Err: enrollment.ErrDuplicateCoupon})
		}
		seen[c.Code] = true
		coupons = append(coupons, c)
	}
	return coupons, nil
}

// LoadFile reads a JSON array of coupons from path.
func (f *CouponFactory) LoadFile(path string) ([]enrollment.Coupon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coupon file: %w", err)
	}
	return f.ParseCoupons(data)
}

// Build converts a CouponJSON and checks the definition rules.
func (f *CouponFactory) Build(cj CouponJSON) (enrollment.Coupon, error) {
	c := enrollment.Coupon{
		Code:          enrollment.NormalizeCode(cj.Code),
		Name:          cj.Name,
		Description:   cj.Description,
		DiscountValue: cj.DiscountValue,
		MinPurchase:   cj.MinPurchase,
		MaxDiscount:   cj.MaxDiscount,
		UsageLimit:    cj.UsageLimit,
		ValidFrom:     cj.ValidFrom,
		ValidUntil:    cj.ValidUntil,
		Program:       cj.Program,
		Active:        true,
	}
	if cj.Active != nil {
		c.Active = *cj.Active
	}
	if dt, ok := enrollment.ParseDiscountType(cj.DiscountType); ok {
		c.DiscountType = dt
	} else {
		c.DiscountType = enrollment.DiscountType(cj.DiscountType)
	}

	if err := c.Validate(); err != nil {
		return enrollment.Coupon{}, err
	}
	return c, nil
}

// ToJSON converts a coupon back to its JSON schema.
func ToJSON(c enrollment.Coupon) CouponJSON {
	active := c.Active
	return CouponJSON{
		Code:          c.Code,
		Name:          c.Name,
		Description:   c.Description,
		DiscountType:  string(c.DiscountType),
		DiscountValue: c.DiscountValue,
		MinPurchase:   c.MinPurchase,
		MaxDiscount:   c.MaxDiscount,
		UsageLimit:    c.UsageLimit,
		ValidFrom:     c.ValidFrom,
		ValidUntil:    c.ValidUntil,
		Program:       c.Program,
		Active:        &active,
	}
}
