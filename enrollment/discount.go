/*
discount.go - Discount Calculator

PURPOSE:
  Pure computation of the payable amount for a base price and an optional
  coupon. No store access, no clock, no hidden state.

RULES:
  no coupon   discount = 0
  fixed       discount = min(value, base)
  percentage  discount = base * value / 100, capped at MaxDiscount when set
  payable     = base - discount, floored at 0

PRECISION:
  decimal.Decimal throughout. The percentage result is truncated to
  MoneyScale fractional digits, never rounded up.
*/
package enrollment

// Breakdown is the result of ComputePayable.
type Breakdown struct {
	Discount Money `json:"discount"`
	Payable  Money `json:"payable"`
}

// ComputePayable returns the discount and payable amount for basePrice.
// A nil coupon means no discount.
func ComputePayable(basePrice Money, coupon *Coupon) Breakdown {
	if basePrice.IsNegative() {
		basePrice = ZeroMoney()
	}
	if coupon == nil {
		return Breakdown{Discount: ZeroMoney(), Payable: basePrice}
	}

	var discount Money
	switch coupon.DiscountType {
	case DiscountFixed:
		discount = coupon.DiscountValue.Min(basePrice)
	case DiscountPercentage:
		discount = basePrice.Percent(coupon.DiscountValue)
		if coupon.MaxDiscount != nil {
			discount = discount.Min(*coupon.MaxDiscount)
		}
	default:
		discount = ZeroMoney()
	}
	if discount.IsNegative() {
		discount = ZeroMoney()
	}

	payable := basePrice.Sub(discount)
	if payable.IsNegative() {
		payable = ZeroMoney()
	}
	return Breakdown{Discount: discount, Payable: payable}
}
