package voucher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service classifies vouchers for a checkout and redeems them. It never
// trusts a client-side classification: Apply re-runs every check against the
// stored voucher.
type Service struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// NewService creates a Service backed by repo. A nil notifier disables
// notifications.
func NewService(repo Repository, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// ListForOrder returns all vouchers split into those the shopper can apply to
// an order of orderValue and those they cannot.
func (s *Service) ListForOrder(ctx context.Context, orderValue decimal.Decimal, shopper Shopper) (*Partition, error) {
	if err := checkOrderValue(orderValue); err != nil {
		return nil, err
	}

	vouchers, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list vouchers")
	}

	p := Classify(vouchers, orderValue, shopper, s.now())
	return &p, nil
}

// FindByCode looks up a voucher by code, ignoring case and surrounding space.
func (s *Service) FindByCode(ctx context.Context, code string) (*Voucher, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, &InvalidInputError{Field: "code", Message: "is required"}
	}

	v, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup voucher")
	}
	return v, nil
}

// Apply validates the voucher for the order, computes the discount and
// consumes one use. The usage increment is conditional in the store, so two
// concurrent requests for the last use yield one result and one ErrExhausted.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if err := checkOrderValue(req.OrderValue); err != nil {
		return nil, err
	}

	v, err := s.FindByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	switch reason := Check(v, req.OrderValue, req.Shopper, s.now()); reason {
	case ReasonNone:
	case ReasonUsageLimitReached:
		return nil, ErrExhausted
	default:
		e := &IneligibleError{Code: v.Code, Reason: reason}
		if reason == ReasonBelowMinimumOrder {
			e.MinimumOrderValue = FormatVND(v.MinimumOrderValue)
		}
		return nil, e
	}

	d, err := Compute(v, req.OrderValue)
	if err != nil {
		return nil, err
	}

	r := &Redemption{
		ID:             s.newID(),
		VoucherID:      v.ID,
		Code:           v.Code,
		UserID:         req.Shopper.ID,
		OrderValue:     req.OrderValue,
		DiscountAmount: d.Amount,
		FinalAmount:    d.Final,
		ProductIDs:     req.ProductIDs,
		RedeemedAt:     s.now(),
	}
	if err := s.repo.IncrementUsedCountIfBelowLimit(ctx, r); err != nil {
		if errors.Is(err, ErrExhausted) {
			return nil, ErrExhausted
		}
		return nil, errors.Wrap(err, "increment voucher usage")
	}

	res := &ApplyResult{
		VoucherID:      v.ID,
		Code:           v.Code,
		DiscountAmount: d.Amount,
		FinalAmount:    d.Final,
		Message:        fmt.Sprintf("Voucher %s applied: -%s", v.Code, FormatVND(d.Amount)),
	}

	if req.Shopper.ID != "" {
		if err := s.notifier.VoucherApplied(ctx, req.Shopper.ID, res); err != nil {
			zctx.From(ctx).Warn("Voucher notification failed",
				zap.String("code", v.Code),
				zap.String("user_id", req.Shopper.ID),
				zap.Error(err),
			)
		}
	}

	return res, nil
}

// checkOrderValue rejects negative amounts and amounts with more than two
// decimal places.
func checkOrderValue(v decimal.Decimal) error {
	if v.IsNegative() {
		return &InvalidInputError{Field: "orderValue", Message: "must not be negative"}
	}
	if !v.Equal(v.Round(2)) {
		return &InvalidInputError{Field: "orderValue", Message: "must have at most 2 decimal places"}
	}
	return nil
}
