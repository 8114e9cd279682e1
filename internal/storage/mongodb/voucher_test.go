package mongodb

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

func TestDecimal128RoundTrip(t *testing.T) {
	for _, in := range []string{"0", "50000", "1250000.5", "3.34", "0.01"} {
		d := decimal.RequireFromString(in)
		d128, err := toDecimal128(d)
		require.NoError(t, err)

		back, err := fromDecimal128(d128)
		require.NoError(t, err)
		assert.True(t, d.Equal(back), "want %s, got %s", d, back)
	}
}

func TestVoucherDocMapping(t *testing.T) {
	maxDiscount := decimal.NewFromInt(30000)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	v := voucher.Voucher{
		ID:                "v1",
		Code:              "YUMIN10",
		DiscountType:      voucher.DiscountPercentage,
		DiscountValue:     decimal.NewFromInt(10),
		MaxDiscountAmount: &maxDiscount,
		MinimumOrderValue: decimal.NewFromInt(100000),
		StartDate:         start,
		EndDate:           start.AddDate(0, 1, 0),
		UsageLimit:        100,
		UsedCount:         7,
		ApplicableUserGroups: voucher.UserGroups{
			Levels:   []string{"vip"},
			Specific: []string{"u1"},
		},
	}

	doc, err := newVoucherDoc(&v)
	require.NoError(t, err)

	got, err := doc.toDomain()
	require.NoError(t, err)
	assert.Equal(t, v.ApplicableUserGroups, got.ApplicableUserGroups)
	assert.Equal(t, v.UsageLimit, got.UsageLimit)
	assert.Equal(t, v.UsedCount, got.UsedCount)
	require.NotNil(t, got.MaxDiscountAmount)
	assert.True(t, maxDiscount.Equal(*got.MaxDiscountAmount))
	assert.True(t, v.MinimumOrderValue.Equal(got.MinimumOrderValue))
}

func TestVoucherDocWithoutGroupsIsUnrestricted(t *testing.T) {
	doc := voucherDoc{ID: "v1", Code: "OPEN", DiscountType: "fixed"}
	var err error
	doc.DiscountValue, err = toDecimal128(decimal.NewFromInt(20000))
	require.NoError(t, err)
	doc.MinimumOrderValue, err = toDecimal128(decimal.Zero)
	require.NoError(t, err)

	got, err := doc.toDomain()
	require.NoError(t, err)
	assert.Equal(t, voucher.Unrestricted(), got.ApplicableUserGroups)
	assert.Nil(t, got.MaxDiscountAmount)
}
