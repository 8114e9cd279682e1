package voucher

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Discount holds the computed discount and the amount left to pay.
type Discount struct {
	Amount decimal.Decimal
	Final  decimal.Decimal
}

// Compute calculates the discount v grants on an order of orderValue. It does
// not check eligibility. The discount never exceeds the order value and the
// final amount never drops below zero.
func Compute(v *Voucher, orderValue decimal.Decimal) (Discount, error) {
	var amount decimal.Decimal
	switch v.DiscountType {
	case DiscountFixed:
		amount = decimal.Min(v.DiscountValue, orderValue)
	case DiscountPercentage:
		amount = orderValue.Mul(v.DiscountValue).Div(hundred)
		if v.MaxDiscountAmount != nil && amount.GreaterThan(*v.MaxDiscountAmount) {
			amount = *v.MaxDiscountAmount
		}
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", v.DiscountType)
	}
	amount = decimal.Min(floorAtZero(amount).Round(2), orderValue)

	return Discount{
		Amount: amount,
		Final:  floorAtZero(orderValue.Sub(amount)).Round(2),
	}, nil
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
