// Package handler serves the voucher HTTP API.
package handler

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

// Service is the voucher use-case surface the handlers call.
type Service interface {
	ListForOrder(ctx context.Context, orderValue decimal.Decimal, shopper voucher.Shopper) (*voucher.Partition, error)
	FindByCode(ctx context.Context, code string) (*voucher.Voucher, error)
	Apply(ctx context.Context, req voucher.ApplyRequest) (*voucher.ApplyResult, error)
}

var _ Service = (*voucher.Service)(nil)

// Handler implements the /api/vouchers endpoints.
type Handler struct {
	svc      Service
	validate *validator.Validate
	applies  metric.Int64Counter
}

// NewHandler constructs a Handler. Apply outcomes are counted on meter.
func NewHandler(svc Service, meter metric.Meter) (*Handler, error) {
	applies, err := meter.Int64Counter("voucher.apply",
		metric.WithDescription("Voucher apply attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create apply counter")
	}
	return &Handler{
		svc:      svc,
		validate: newValidator(),
		applies:  applies,
	}, nil
}

// Routes registers the voucher endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/vouchers", func(r chi.Router) {
		r.Get("/available", h.ListAvailable)
		r.Post("/apply", h.Apply)
		r.Get("/{code}", h.GetVoucher)
	})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// validationError converts the first validator failure into a domain
// invalid-input error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &voucher.InvalidInputError{Field: "body", Message: err.Error()}
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "gte":
		msg = "must not be negative"
	case "max":
		msg = "must be at most " + fe.Param()
	default:
		msg = "is invalid"
	}
	return &voucher.InvalidInputError{Field: fe.Field(), Message: msg}
}
