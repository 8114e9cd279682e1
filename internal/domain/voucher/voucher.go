package voucher

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported voucher discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order value, optionally capped
	// by MaxDiscountAmount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed currency amount, capped at the order value.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// LevelNew is the customer tier matched by UserGroups.New.
const LevelNew = "new"

// UserGroups describes which shoppers may use a voucher. Any single match
// qualifies a shopper. A voucher without restrictions carries All=true rather
// than an empty value, see Unrestricted.
type UserGroups struct {
	All      bool     `json:"all"`
	New      bool     `json:"new"`
	Specific []string `json:"specific,omitempty"`
	Levels   []string `json:"levels,omitempty"`
}

// Unrestricted returns the groups value used for vouchers that did not
// declare any applicable user groups.
func Unrestricted() UserGroups {
	return UserGroups{All: true}
}

// Matches reports whether the shopper belongs to at least one group.
func (g UserGroups) Matches(s Shopper) bool {
	if g.All {
		return true
	}
	level := strings.ToLower(strings.TrimSpace(s.CustomerLevel))
	if level != "" {
		if g.New && level == LevelNew {
			return true
		}
		for _, l := range g.Levels {
			if strings.EqualFold(strings.TrimSpace(l), level) {
				return true
			}
		}
	}
	if s.ID != "" && slices.Contains(g.Specific, s.ID) {
		return true
	}
	return false
}

// Voucher is a discount code with eligibility rules and a usage cap.
type Voucher struct {
	ID                   string           `json:"id"`
	Code                 string           `json:"code"`
	Description          string           `json:"description"`
	DiscountType         DiscountType     `json:"discountType"`
	DiscountValue        decimal.Decimal  `json:"discountValue"`
	MaxDiscountAmount    *decimal.Decimal `json:"maxDiscountAmount,omitempty"`
	MinimumOrderValue    decimal.Decimal  `json:"minimumOrderValue"`
	StartDate            time.Time        `json:"startDate"`
	EndDate              time.Time        `json:"endDate"`
	UsageLimit           int              `json:"usageLimit"`
	UsedCount            int              `json:"usedCount"`
	ApplicableUserGroups UserGroups       `json:"applicableUserGroups"`
}

// InWindow reports whether now falls inside the inclusive validity window.
func (v *Voucher) InWindow(now time.Time) bool {
	return !now.Before(v.StartDate) && !now.After(v.EndDate)
}

// HasUsesLeft reports whether the voucher can still be redeemed.
func (v *Voucher) HasUsesLeft() bool {
	return v.UsedCount < v.UsageLimit
}

// Active reports whether the voucher is inside its window and not exhausted.
func (v *Voucher) Active(now time.Time) bool {
	return v.InWindow(now) && v.HasUsesLeft()
}

// Shopper identifies the customer a voucher is evaluated for. Both fields are
// optional; an anonymous shopper only matches unrestricted vouchers.
type Shopper struct {
	ID            string
	CustomerLevel string
}

// ApplyRequest holds the input for redeeming a voucher against an order.
type ApplyRequest struct {
	Code       string
	OrderValue decimal.Decimal
	ProductIDs []string
	Shopper    Shopper
}

// ApplyResult is the outcome of a successful redemption. It is not persisted
// as such; the Redemption ledger row is.
type ApplyResult struct {
	VoucherID      string
	Code           string
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Message        string
}

// Redemption is the ledger row written together with the usage increment.
type Redemption struct {
	ID             string
	VoucherID      string
	Code           string
	UserID         string
	OrderValue     decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	ProductIDs     []string
	RedeemedAt     time.Time
}

// Repository provides voucher lookups and the single mutation the apply path
// needs.
type Repository interface {
	// FindByCode returns the voucher with the given normalized code, or
	// ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Voucher, error)
	// List returns all vouchers in a stable order.
	List(ctx context.Context) ([]Voucher, error)
	// IncrementUsedCountIfBelowLimit increments the used count of r.VoucherID
	// only while it is below the usage limit, and records r in the same
	// atomic step. It returns ErrExhausted when the limit was already reached.
	IncrementUsedCountIfBelowLimit(ctx context.Context, r *Redemption) error
}

// Notifier is told about successful redemptions. Implementations must not
// block the apply path for long; failures are logged, never returned to the
// shopper.
type Notifier interface {
	VoucherApplied(ctx context.Context, userID string, res *ApplyResult) error
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// VoucherApplied implements Notifier.
func (NopNotifier) VoucherApplied(context.Context, string, *ApplyResult) error { return nil }
