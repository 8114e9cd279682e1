package voucher

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unavailable pairs a voucher with the first rule it fails.
type Unavailable struct {
	Voucher Voucher
	Reason  Reason
}

// Partition is the result of classifying vouchers for one shopper and order.
// Both lists preserve the input order.
type Partition struct {
	Available   []Voucher
	Unavailable []Unavailable
}

// Check evaluates the four eligibility predicates for v and returns the first
// failing one, or ReasonNone when the voucher can be used. Predicates are
// checked in the order: validity window, usage limit, minimum order value,
// user group.
func Check(v *Voucher, orderValue decimal.Decimal, s Shopper, now time.Time) Reason {
	switch {
	case now.Before(v.StartDate):
		return ReasonNotStarted
	case now.After(v.EndDate):
		return ReasonExpired
	case !v.HasUsesLeft():
		return ReasonUsageLimitReached
	case orderValue.LessThan(v.MinimumOrderValue):
		return ReasonBelowMinimumOrder
	case !v.ApplicableUserGroups.Matches(s):
		return ReasonUserNotEligible
	default:
		return ReasonNone
	}
}

// Classify partitions vouchers into those the shopper can use on an order of
// orderValue and those they cannot. It is a pure function of its inputs.
func Classify(vouchers []Voucher, orderValue decimal.Decimal, s Shopper, now time.Time) Partition {
	p := Partition{
		Available:   make([]Voucher, 0, len(vouchers)),
		Unavailable: make([]Unavailable, 0),
	}
	for i := range vouchers {
		v := vouchers[i]
		if r := Check(&v, orderValue, s, now); r != ReasonNone {
			p.Unavailable = append(p.Unavailable, Unavailable{Voucher: v, Reason: r})
			continue
		}
		p.Available = append(p.Available, v)
	}
	return p
}
