package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

var columns = []string{
	"code", "description", "discount_type", "discount_value", "max_discount_amount",
	"minimum_order_value", "start_date", "end_date", "usage_limit",
	"all", "new", "user_ids", "levels",
}

// RowError locates a malformed input row.
type RowError struct {
	File string
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return e.File + ":" + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *RowError) Unwrap() error { return e.Err }

// readFile parses a CSV file, transparently decompressing .gz input.
func readFile(ctx context.Context, path string) ([]voucher.Voucher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return parseCSV(ctx, path, r)
}

func parseCSV(ctx context.Context, name string, r io.Reader) ([]voucher.Voucher, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(columns)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", name)
	}
	for i, col := range columns {
		if strings.TrimSpace(strings.ToLower(header[i])) != col {
			return nil, errors.Errorf("%s: column %d is %q, want %q", name, i+1, header[i], col)
		}
	}

	var out []voucher.Voucher
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		line, _ := cr.FieldPos(0)
		v, err := parseRecord(rec)
		if err != nil {
			return nil, &RowError{File: name, Line: line, Err: err}
		}
		out = append(out, v)
	}
	return out, nil
}

func parseRecord(rec []string) (voucher.Voucher, error) {
	field := func(i int) string { return strings.TrimSpace(rec[i]) }

	v := voucher.Voucher{
		Code:         voucher.NormalizeCode(field(0)),
		Description:  field(1),
		DiscountType: voucher.DiscountType(strings.ToLower(field(2))),
	}
	if v.Code == "" {
		return v, errors.New("code is required")
	}
	if !v.DiscountType.Valid() {
		return v, errors.Errorf("unknown discount_type %q", field(2))
	}

	var err error
	if v.DiscountValue, err = decimal.NewFromString(field(3)); err != nil {
		return v, errors.Wrap(err, "discount_value")
	}
	if !v.DiscountValue.IsPositive() {
		return v, errors.New("discount_value must be positive")
	}
	if s := field(4); s != "" {
		m, err := decimal.NewFromString(s)
		if err != nil {
			return v, errors.Wrap(err, "max_discount_amount")
		}
		v.MaxDiscountAmount = &m
	}
	v.MinimumOrderValue = decimal.Zero
	if s := field(5); s != "" {
		if v.MinimumOrderValue, err = decimal.NewFromString(s); err != nil {
			return v, errors.Wrap(err, "minimum_order_value")
		}
	}
	if v.MinimumOrderValue.IsNegative() {
		return v, errors.New("minimum_order_value must not be negative")
	}

	if v.StartDate, err = time.Parse(time.RFC3339, field(6)); err != nil {
		return v, errors.Wrap(err, "start_date")
	}
	if v.EndDate, err = time.Parse(time.RFC3339, field(7)); err != nil {
		return v, errors.Wrap(err, "end_date")
	}
	if v.EndDate.Before(v.StartDate) {
		return v, errors.New("end_date is before start_date")
	}

	if v.UsageLimit, err = strconv.Atoi(field(8)); err != nil {
		return v, errors.Wrap(err, "usage_limit")
	}
	if v.UsageLimit <= 0 {
		return v, errors.New("usage_limit must be positive")
	}

	var g voucher.UserGroups
	if g.All, err = parseBool(field(9)); err != nil {
		return v, errors.Wrap(err, "all")
	}
	if g.New, err = parseBool(field(10)); err != nil {
		return v, errors.Wrap(err, "new")
	}
	g.Specific = splitList(field(11))
	g.Levels = splitList(field(12))
	// A blank all cell with no other groups means the row declared none.
	// An explicit all=false keeps the voucher restricted to nobody.
	if field(9) == "" && !g.New && len(g.Specific) == 0 && len(g.Levels) == 0 {
		g = voucher.Unrestricted()
	}
	v.ApplicableUserGroups = g

	return v, nil
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
