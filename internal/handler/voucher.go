package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

const maxBodyBytes = 64 << 10

// ListAvailable handles GET /api/vouchers/available?orderValue=.
func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("orderValue")
	if raw == "" {
		writeError(w, r, &voucher.InvalidInputError{Field: "orderValue", Message: "is required"})
		return
	}
	orderValue, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, r, &voucher.InvalidInputError{Field: "orderValue", Message: "must be a number"})
		return
	}

	p, err := h.svc.ListForOrder(r.Context(), orderValue, ShopperFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePartition(e, p) })
}

// GetVoucher handles GET /api/vouchers/{code}.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeVoucher(e, v) })
}

// Apply handles POST /api/vouchers/apply.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := h.decodeApply(w, r)
	if err != nil {
		h.countApply(r, voucher.Kind(err))
		writeError(w, r, err)
		return
	}

	res, err := h.svc.Apply(ctx, voucher.ApplyRequest{
		Code:       req.Code,
		OrderValue: req.OrderValue,
		ProductIDs: req.ProductIDs,
		Shopper:    ShopperFrom(ctx),
	})
	if err != nil {
		kind := voucher.Kind(err)
		if kind == "" {
			kind = kindInternal
		}
		h.countApply(r, kind)
		writeError(w, r, err)
		return
	}

	h.countApply(r, "applied")
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeApplyResult(e, res) })
}

func (h *Handler) decodeApply(w http.ResponseWriter, r *http.Request) (*applyRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &voucher.InvalidInputError{Field: "body", Message: "too large or unreadable"}
	}

	var req applyRequest
	if err := req.Decode(jx.DecodeBytes(body)); err != nil {
		if errors.Is(err, voucher.ErrInvalidInput) {
			return nil, err
		}
		return nil, &voucher.InvalidInputError{Field: "body", Message: "malformed JSON"}
	}
	if err := h.validate.Struct(&req); err != nil {
		return nil, validationError(err)
	}
	return &req, nil
}

func (h *Handler) countApply(r *http.Request, outcome string) {
	h.applies.Add(r.Context(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
