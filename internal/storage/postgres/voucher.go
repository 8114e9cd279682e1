package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

const (
	voucherColumns = `id, code, description, discount_type, discount_value, max_discount_amount,
		minimum_order_value, start_date, end_date, usage_limit, used_count, applicable_user_groups`

	findVoucherByCodeSQL = `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = $1`

	listVouchersSQL = `SELECT ` + voucherColumns + ` FROM vouchers ORDER BY end_date, code`

	listCodesSQL = `SELECT code FROM vouchers`

	// The used_count < usage_limit predicate makes the check and the
	// increment one statement; concurrent redemptions serialize on the row.
	incrementUsedCountSQL = `UPDATE vouchers SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1 AND used_count < usage_limit`

	insertRedemptionSQL = `INSERT INTO voucher_redemptions
		(id, voucher_id, code, user_id, order_value, discount_amount, final_amount, product_ids, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	upsertVoucherSQL = `INSERT INTO vouchers
		(id, code, description, discount_type, discount_value, max_discount_amount,
		 minimum_order_value, start_date, end_date, usage_limit, used_count, applicable_user_groups)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			max_discount_amount = EXCLUDED.max_discount_amount,
			minimum_order_value = EXCLUDED.minimum_order_value,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			usage_limit = GREATEST(EXCLUDED.usage_limit, vouchers.used_count),
			applicable_user_groups = EXCLUDED.applicable_user_groups,
			updated_at = NOW()`
)

var _ voucher.Repository = (*VoucherRepository)(nil)

// VoucherRepository implements voucher.Repository backed by PostgreSQL.
type VoucherRepository struct {
	pool *pgxpool.Pool
}

// NewVoucherRepository returns a VoucherRepository that uses the given pool.
func NewVoucherRepository(pool *pgxpool.Pool) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

// FindByCode looks up a voucher by its normalized code.
// Returns voucher.ErrNotFound when no voucher has that code.
func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (*voucher.Voucher, error) {
	rows, err := r.pool.Query(ctx, findVoucherByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding voucher by code %q: %w", code, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVoucher)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, voucher.ErrNotFound
		}
		return nil, fmt.Errorf("finding voucher by code %q: %w", code, err)
	}
	return &v, nil
}

// List returns all vouchers ordered by end date, soonest-expiring first.
func (r *VoucherRepository) List(ctx context.Context) ([]voucher.Voucher, error) {
	rows, err := r.pool.Query(ctx, listVouchersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}

	vouchers, err := pgx.CollectRows(rows, scanVoucher)
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}
	return vouchers, nil
}

// ForEachCode calls fn with every stored code without loading the vouchers.
func (r *VoucherRepository) ForEachCode(ctx context.Context, fn func(code string) error) error {
	rows, err := r.pool.Query(ctx, listCodesSQL)
	if err != nil {
		return fmt.Errorf("listing voucher codes: %w", err)
	}

	var code string
	if _, err := pgx.ForEachRow(rows, []any{&code}, func() error { return fn(code) }); err != nil {
		return fmt.Errorf("listing voucher codes: %w", err)
	}
	return nil
}

// IncrementUsedCountIfBelowLimit consumes one use of the voucher and writes
// the redemption row in a single transaction. It returns
// voucher.ErrExhausted when the conditional update matches no row.
func (r *VoucherRepository) IncrementUsedCountIfBelowLimit(ctx context.Context, red *voucher.Redemption) error {
	productIDs := red.ProductIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	productsJSON, err := json.Marshal(productIDs)
	if err != nil {
		return fmt.Errorf("marshaling product ids: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, incrementUsedCountSQL, red.VoucherID)
		if err != nil {
			return fmt.Errorf("incrementing used count for voucher %q: %w", red.VoucherID, err)
		}
		if tag.RowsAffected() == 0 {
			return voucher.ErrExhausted
		}

		if _, err := tx.Exec(ctx, insertRedemptionSQL,
			red.ID, red.VoucherID, red.Code, red.UserID,
			red.OrderValue, red.DiscountAmount, red.FinalAmount,
			productsJSON, red.RedeemedAt,
		); err != nil {
			return fmt.Errorf("recording redemption %q: %w", red.ID, err)
		}
		return nil
	})
}

// Upsert inserts a voucher or updates the rules of an existing one with the
// same code. The used count of an existing voucher is never touched.
func (r *VoucherRepository) Upsert(ctx context.Context, v *voucher.Voucher) error {
	groups, err := json.Marshal(v.ApplicableUserGroups)
	if err != nil {
		return fmt.Errorf("marshaling user groups: %w", err)
	}

	var maxDiscount decimal.NullDecimal
	if v.MaxDiscountAmount != nil {
		maxDiscount = decimal.NewNullDecimal(*v.MaxDiscountAmount)
	}

	_, err = r.pool.Exec(ctx, upsertVoucherSQL,
		v.ID, v.Code, v.Description, string(v.DiscountType), v.DiscountValue, maxDiscount,
		v.MinimumOrderValue, v.StartDate, v.EndDate, v.UsageLimit, v.UsedCount, groups,
	)
	if err != nil {
		return fmt.Errorf("upserting voucher %q: %w", v.Code, err)
	}
	return nil
}

func scanVoucher(row pgx.CollectableRow) (voucher.Voucher, error) {
	var (
		v            voucher.Voucher
		discountType string
		maxDiscount  decimal.NullDecimal
		startDate    time.Time
		endDate      time.Time
		usageLimit   int32
		usedCount    int32
		groups       []byte
	)
	if err := row.Scan(
		&v.ID, &v.Code, &v.Description, &discountType, &v.DiscountValue, &maxDiscount,
		&v.MinimumOrderValue, &startDate, &endDate, &usageLimit, &usedCount, &groups,
	); err != nil {
		return v, err
	}

	v.DiscountType = voucher.DiscountType(discountType)
	if maxDiscount.Valid {
		amount := maxDiscount.Decimal
		v.MaxDiscountAmount = &amount
	}
	v.StartDate = startDate
	v.EndDate = endDate
	v.UsageLimit = int(usageLimit)
	v.UsedCount = int(usedCount)

	v.ApplicableUserGroups = voucher.Unrestricted()
	if len(groups) > 0 && string(groups) != "null" {
		var g voucher.UserGroups
		if err := json.Unmarshal(groups, &g); err != nil {
			return v, fmt.Errorf("decoding user groups of voucher %q: %w", v.Code, err)
		}
		v.ApplicableUserGroups = g
	}
	return v, nil
}
