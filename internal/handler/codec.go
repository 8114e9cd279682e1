package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

// applyRequest is the body of POST /api/vouchers/apply.
type applyRequest struct {
	Code       string          `json:"code" validate:"required,max=64"`
	OrderValue decimal.Decimal `json:"orderValue" validate:"gte=0"`
	ProductIDs []string        `json:"productIds" validate:"max=500,dive,required,max=128"`
}

func (req *applyRequest) Decode(d *jx.Decoder) error {
	seenOrderValue := false
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "code")
			}
			req.Code = v
		case "orderValue":
			num, err := d.Num()
			if err != nil {
				return errors.Wrap(err, "orderValue")
			}
			v, err := decimal.NewFromString(num.String())
			if err != nil {
				return errors.Wrap(err, "orderValue")
			}
			req.OrderValue = v
			seenOrderValue = true
		case "productIds":
			req.ProductIDs = req.ProductIDs[:0]
			return d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				if err != nil {
					return errors.Wrap(err, "productIds")
				}
				req.ProductIDs = append(req.ProductIDs, id)
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !seenOrderValue {
		return &voucher.InvalidInputError{Field: "orderValue", Message: "is required"}
	}
	return nil
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

func encodeStrings(e *jx.Encoder, ss []string) {
	e.ArrStart()
	for _, s := range ss {
		e.Str(s)
	}
	e.ArrEnd()
}

func encodeVoucher(e *jx.Encoder, v *voucher.Voucher) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(v.ID)
	e.FieldStart("code")
	e.Str(v.Code)
	e.FieldStart("description")
	e.Str(v.Description)
	e.FieldStart("discountType")
	e.Str(string(v.DiscountType))
	e.FieldStart("discountValue")
	encodeMoney(e, v.DiscountValue)
	if v.MaxDiscountAmount != nil {
		e.FieldStart("maxDiscountAmount")
		encodeMoney(e, *v.MaxDiscountAmount)
	}
	e.FieldStart("minimumOrderValue")
	encodeMoney(e, v.MinimumOrderValue)
	e.FieldStart("startDate")
	e.Str(v.StartDate.UTC().Format(time.RFC3339))
	e.FieldStart("endDate")
	e.Str(v.EndDate.UTC().Format(time.RFC3339))
	e.FieldStart("usageLimit")
	e.Int(v.UsageLimit)
	e.FieldStart("usedCount")
	e.Int(v.UsedCount)
	e.FieldStart("applicableUserGroups")
	encodeUserGroups(e, v.ApplicableUserGroups)
	e.ObjEnd()
}

func encodeUserGroups(e *jx.Encoder, g voucher.UserGroups) {
	e.ObjStart()
	e.FieldStart("all")
	e.Bool(g.All)
	e.FieldStart("new")
	e.Bool(g.New)
	e.FieldStart("specific")
	encodeStrings(e, g.Specific)
	e.FieldStart("levels")
	encodeStrings(e, g.Levels)
	e.ObjEnd()
}

func encodePartition(e *jx.Encoder, p *voucher.Partition) {
	e.ObjStart()
	e.FieldStart("available")
	e.ArrStart()
	for i := range p.Available {
		encodeVoucher(e, &p.Available[i])
	}
	e.ArrEnd()
	e.FieldStart("unavailable")
	e.ArrStart()
	for i := range p.Unavailable {
		u := &p.Unavailable[i]
		e.ObjStart()
		e.FieldStart("voucher")
		encodeVoucher(e, &u.Voucher)
		e.FieldStart("reason")
		e.Str(string(u.Reason))
		e.FieldStart("message")
		e.Str(u.Reason.Message())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeApplyResult(e *jx.Encoder, res *voucher.ApplyResult) {
	e.ObjStart()
	e.FieldStart("voucherId")
	e.Str(res.VoucherID)
	e.FieldStart("code")
	e.Str(res.Code)
	e.FieldStart("discountAmount")
	encodeMoney(e, res.DiscountAmount)
	e.FieldStart("finalAmount")
	encodeMoney(e, res.FinalAmount)
	e.FieldStart("message")
	e.Str(res.Message)
	e.ObjEnd()
}

// writeJSON renders a body produced by encode with the given status.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
