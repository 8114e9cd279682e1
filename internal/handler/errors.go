package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

const kindInternal = "internal"

// statusFor maps a domain error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "invalid_input":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "exhausted":
		return http.StatusConflict
	case "ineligible":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {code, kind, reason?, message}. Unexpected errors
// are logged and hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := voucher.Kind(err)
	status := statusFor(kind)

	message := err.Error()
	var reason voucher.Reason
	switch kind {
	case "":
		kind = kindInternal
		message = "internal error"
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	case "not_found":
		message = "voucher not found"
	case "exhausted":
		reason = voucher.ReasonUsageLimitReached
		message = voucher.ReasonUsageLimitReached.Message()
	case "ineligible":
		var ie *voucher.IneligibleError
		if errors.As(err, &ie) {
			reason = ie.Reason
			message = ie.Reason.Message()
			if ie.MinimumOrderValue != "" {
				message = "Minimum order value is " + ie.MinimumOrderValue
			}
		}
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("kind")
		e.Str(kind)
		if reason != voucher.ReasonNone {
			e.FieldStart("reason")
			e.Str(string(reason))
		}
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(http.StatusUnauthorized)
		e.FieldStart("kind")
		e.Str("unauthorized")
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}
