//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("yumin"),
		tcpostgres.WithUsername("yumin"),
		tcpostgres.WithPassword("yumin"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func testVoucher(code string, limit int) *voucher.Voucher {
	maxDiscount := decimal.NewFromInt(30000)
	now := time.Now().UTC()
	return &voucher.Voucher{
		ID:                   uuid.NewString(),
		Code:                 code,
		Description:          "integration voucher",
		DiscountType:         voucher.DiscountPercentage,
		DiscountValue:        decimal.NewFromInt(10),
		MaxDiscountAmount:    &maxDiscount,
		MinimumOrderValue:    decimal.NewFromInt(100000),
		StartDate:            now.Add(-time.Hour).Truncate(time.Microsecond),
		EndDate:              now.Add(24 * time.Hour).Truncate(time.Microsecond),
		UsageLimit:           limit,
		ApplicableUserGroups: voucher.UserGroups{Levels: []string{"vip"}, Specific: []string{"u1"}},
	}
}

func redemptionFor(v *voucher.Voucher) *voucher.Redemption {
	return &voucher.Redemption{
		ID:             uuid.NewString(),
		VoucherID:      v.ID,
		Code:           v.Code,
		UserID:         "u1",
		OrderValue:     decimal.NewFromInt(500000),
		DiscountAmount: decimal.NewFromInt(30000),
		FinalAmount:    decimal.NewFromInt(470000),
		ProductIDs:     []string{"p1", "p2"},
		RedeemedAt:     time.Now().UTC(),
	}
}

func TestVoucherRepository_RoundTrip(t *testing.T) {
	pool := setupPool(t)
	repo := NewVoucherRepository(pool)
	ctx := context.Background()

	v := testVoucher("YUMIN10", 5)
	require.NoError(t, repo.Upsert(ctx, v))

	got, err := repo.FindByCode(ctx, "YUMIN10")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, voucher.DiscountPercentage, got.DiscountType)
	assert.True(t, v.DiscountValue.Equal(got.DiscountValue))
	require.NotNil(t, got.MaxDiscountAmount)
	assert.True(t, v.MaxDiscountAmount.Equal(*got.MaxDiscountAmount))
	assert.Equal(t, v.ApplicableUserGroups, got.ApplicableUserGroups)
	assert.True(t, v.StartDate.Equal(got.StartDate))

	_, err = repo.FindByCode(ctx, "MISSING")
	assert.ErrorIs(t, err, voucher.ErrNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestVoucherRepository_UpsertKeepsUsedCount(t *testing.T) {
	pool := setupPool(t)
	repo := NewVoucherRepository(pool)
	ctx := context.Background()

	v := testVoucher("KEEP", 3)
	require.NoError(t, repo.Upsert(ctx, v))
	require.NoError(t, repo.IncrementUsedCountIfBelowLimit(ctx, redemptionFor(v)))

	v.Description = "updated"
	require.NoError(t, repo.Upsert(ctx, v))

	got, err := repo.FindByCode(ctx, "KEEP")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)
	assert.Equal(t, 1, got.UsedCount)
}

func TestVoucherRepository_IncrementStopsAtLimit(t *testing.T) {
	pool := setupPool(t)
	repo := NewVoucherRepository(pool)
	ctx := context.Background()

	v := testVoucher("LAST", 1)
	require.NoError(t, repo.Upsert(ctx, v))

	require.NoError(t, repo.IncrementUsedCountIfBelowLimit(ctx, redemptionFor(v)))
	err := repo.IncrementUsedCountIfBelowLimit(ctx, redemptionFor(v))
	assert.ErrorIs(t, err, voucher.ErrExhausted)

	var redemptions int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM voucher_redemptions WHERE voucher_id = $1`, v.ID,
	).Scan(&redemptions))
	assert.Equal(t, 1, redemptions)
}

func TestVoucherRepository_ConcurrentIncrement(t *testing.T) {
	pool := setupPool(t)
	repo := NewVoucherRepository(pool)
	ctx := context.Background()

	const limit = 3
	v := testVoucher("RACE", limit)
	require.NoError(t, repo.Upsert(ctx, v))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.IncrementUsedCountIfBelowLimit(ctx, redemptionFor(v))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, voucher.ErrExhausted):
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, succeeded)
	assert.Equal(t, 10-limit, exhausted)

	got, err := repo.FindByCode(ctx, "RACE")
	require.NoError(t, err)
	assert.Equal(t, limit, got.UsedCount)
}

func TestVoucherRepository_ForEachCode(t *testing.T) {
	pool := setupPool(t)
	repo := NewVoucherRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testVoucher("ALPHA", 1)))
	require.NoError(t, repo.Upsert(ctx, testVoucher("BETA", 1)))

	var codes []string
	require.NoError(t, repo.ForEachCode(ctx, func(code string) error {
		codes = append(codes, code)
		return nil
	}))
	assert.ElementsMatch(t, []string{"ALPHA", "BETA"}, codes)
}
