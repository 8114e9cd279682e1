package voucher

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Error kinds surfaced to callers of the apply path. Ineligibility is further
// described by a Reason, which is presentation detail only.
var (
	// ErrNotFound is returned when no voucher has the requested code.
	ErrNotFound = errors.New("voucher not found")
	// ErrIneligible is returned when the voucher fails an eligibility rule for
	// this shopper and order.
	ErrIneligible = errors.New("voucher not eligible")
	// ErrExhausted is returned when the usage limit has been reached, either
	// before the request or by a concurrent redemption.
	ErrExhausted = errors.New("voucher usage limit reached")
	// ErrInvalidInput is returned for blank codes and negative order values.
	ErrInvalidInput = errors.New("invalid voucher request")
)

// Reason explains why a voucher is unavailable.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotStarted        Reason = "not_started"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonBelowMinimumOrder Reason = "below_minimum_order"
	ReasonUserNotEligible   Reason = "user_not_eligible"
)

// Message returns the shopper-facing text for the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNotStarted:
		return "This voucher is not active yet"
	case ReasonExpired:
		return "This voucher has expired"
	case ReasonUsageLimitReached:
		return "This voucher has reached its usage limit"
	case ReasonBelowMinimumOrder:
		return "Your order does not reach the minimum value for this voucher"
	case ReasonUserNotEligible:
		return "This voucher is not available for your account"
	default:
		return ""
	}
}

// IneligibleError carries the failing reason for a rejected voucher. It
// matches ErrIneligible with errors.Is.
type IneligibleError struct {
	Code   string
	Reason Reason
	// MinimumOrderValue is set for ReasonBelowMinimumOrder.
	MinimumOrderValue string
}

func (e *IneligibleError) Error() string {
	if e.Reason == ReasonBelowMinimumOrder && e.MinimumOrderValue != "" {
		return fmt.Sprintf("voucher %s: minimum order value is %s", e.Code, e.MinimumOrderValue)
	}
	return fmt.Sprintf("voucher %s: %s", e.Code, e.Reason.Message())
}

func (e *IneligibleError) Unwrap() error { return ErrIneligible }

// InvalidInputError describes a malformed apply request.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// Kind returns the machine-readable kind of err: "not_found", "ineligible",
// "exhausted", "invalid_input", or "" for unexpected errors.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrIneligible):
		return "ineligible"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return ""
	}
}
