//go:build integration

package mongodb

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

func setupRepository(t *testing.T) *VoucherRepository {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcmongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := Connect(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("yumin")
	require.NoError(t, EnsureIndexes(ctx, db))
	return NewVoucherRepository(db)
}

func seedVoucher(t *testing.T, repo *VoucherRepository, code string, limit int) *voucher.Voucher {
	t.Helper()
	now := time.Now().UTC()
	v := &voucher.Voucher{
		ID:                   uuid.NewString(),
		Code:                 code,
		DiscountType:         voucher.DiscountFixed,
		DiscountValue:        decimal.NewFromInt(20000),
		MinimumOrderValue:    decimal.Zero,
		StartDate:            now.Add(-time.Hour),
		EndDate:              now.Add(time.Hour),
		UsageLimit:           limit,
		ApplicableUserGroups: voucher.Unrestricted(),
	}
	require.NoError(t, repo.Upsert(context.Background(), v))
	return v
}

func redemptionFor(v *voucher.Voucher) *voucher.Redemption {
	return &voucher.Redemption{
		ID:             uuid.NewString(),
		VoucherID:      v.ID,
		Code:           v.Code,
		OrderValue:     decimal.NewFromInt(150000),
		DiscountAmount: decimal.NewFromInt(20000),
		FinalAmount:    decimal.NewFromInt(130000),
		RedeemedAt:     time.Now().UTC(),
	}
}

func TestVoucherRepository_FindAndList(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := seedVoucher(t, repo, "FIXED20K", 5)

	got, err := repo.FindByCode(ctx, "FIXED20K")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.True(t, v.DiscountValue.Equal(got.DiscountValue))

	_, err = repo.FindByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, voucher.ErrNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestVoucherRepository_ConcurrentIncrement(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := seedVoucher(t, repo, "RACE", 2)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		exhausted atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.IncrementUsedCountIfBelowLimit(ctx, redemptionFor(v))
			if err == nil {
				succeeded.Add(1)
				return
			}
			if assert.ErrorIs(t, err, voucher.ErrExhausted) {
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, succeeded.Load())
	assert.EqualValues(t, 6, exhausted.Load())

	got, err := repo.FindByCode(ctx, "RACE")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsedCount)

	n, err := repo.redemptions.CountDocuments(ctx, map[string]any{"voucherId": v.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestVoucherRepository_UpsertKeepsUsedCount(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := seedVoucher(t, repo, "KEEP", 3)

	for range 3 {
		require.NoError(t, repo.IncrementUsedCountIfBelowLimit(ctx, redemptionFor(v)))
	}

	update := *v
	update.ID = uuid.NewString()
	update.Description = "updated"
	update.UsageLimit = 1
	require.NoError(t, repo.Upsert(ctx, &update))

	got, err := repo.FindByCode(ctx, "KEEP")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, "updated", got.Description)
	assert.Equal(t, 3, got.UsedCount)
	assert.Equal(t, 3, got.UsageLimit)

	update.UsageLimit = 10
	require.NoError(t, repo.Upsert(ctx, &update))
	got, err = repo.FindByCode(ctx, "KEEP")
	require.NoError(t, err)
	assert.Equal(t, 10, got.UsageLimit)
	assert.Equal(t, 3, got.UsedCount)
}

func TestVoucherRepository_FailedLedgerInsertReleasesUse(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := seedVoucher(t, repo, "UNDO", 5)

	red := redemptionFor(v)
	require.NoError(t, repo.IncrementUsedCountIfBelowLimit(ctx, red))

	// Same redemption id: the $inc succeeds, the insert hits the duplicate key.
	err := repo.IncrementUsedCountIfBelowLimit(ctx, red)
	require.Error(t, err)
	assert.NotErrorIs(t, err, voucher.ErrExhausted)

	got, err := repo.FindByCode(ctx, "UNDO")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)

	n, err := repo.redemptions.CountDocuments(ctx, map[string]any{"voucherId": v.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestVoucherRepository_ForEachCode(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	seedVoucher(t, repo, "ALPHA", 1)
	seedVoucher(t, repo, "BETA", 1)

	var codes []string
	require.NoError(t, repo.ForEachCode(ctx, func(code string) error {
		codes = append(codes, code)
		return nil
	}))
	assert.ElementsMatch(t, []string{"ALPHA", "BETA"}, codes)
}
