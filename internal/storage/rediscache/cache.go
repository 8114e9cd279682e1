// Package rediscache caches the voucher list in Redis in front of another
// voucher.Repository.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

// DefaultTTL bounds how stale a cached list can be when an invalidation is
// missed.
const DefaultTTL = 30 * time.Second

const listKey = "vouchers:list"

var _ voucher.Repository = (*Repository)(nil)

// Repository decorates a voucher.Repository. List is served from Redis;
// lookups by code always reach the backing store because Apply must see the
// current used count. Redis failures degrade to the backing store.
type Repository struct {
	next   voucher.Repository
	client redis.UniversalClient
	ttl    time.Duration
}

// New wraps next. A non-positive ttl selects DefaultTTL.
func New(next voucher.Repository, client redis.UniversalClient, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repository{next: next, client: client, ttl: ttl}
}

// FindByCode implements voucher.Repository.
func (r *Repository) FindByCode(ctx context.Context, code string) (*voucher.Voucher, error) {
	return r.next.FindByCode(ctx, code)
}

// List implements voucher.Repository.
func (r *Repository) List(ctx context.Context) ([]voucher.Voucher, error) {
	lg := zctx.From(ctx)

	data, err := r.client.Get(ctx, listKey).Bytes()
	switch {
	case err == nil:
		var vouchers []voucher.Voucher
		if err := json.Unmarshal(data, &vouchers); err == nil {
			return vouchers, nil
		}
		lg.Warn("Dropping corrupted voucher list cache", zap.Error(err))
		_ = r.client.Del(ctx, listKey).Err()
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Voucher list cache read failed", zap.Error(err))
	}

	vouchers, err := r.next.List(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vouchers); err == nil {
		if err := r.client.Set(ctx, listKey, data, r.ttl).Err(); err != nil {
			lg.Warn("Voucher list cache write failed", zap.Error(err))
		}
	}
	return vouchers, nil
}

// IncrementUsedCountIfBelowLimit implements voucher.Repository. A successful
// redemption changes a used count, so the cached list is dropped.
func (r *Repository) IncrementUsedCountIfBelowLimit(ctx context.Context, red *voucher.Redemption) error {
	if err := r.next.IncrementUsedCountIfBelowLimit(ctx, red); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

// Invalidate drops the cached list.
func (r *Repository) Invalidate(ctx context.Context) error {
	if err := r.client.Del(ctx, listKey).Err(); err != nil {
		return errors.Wrap(err, "invalidate voucher list")
	}
	return nil
}

func (r *Repository) invalidate(ctx context.Context) {
	if err := r.Invalidate(ctx); err != nil {
		zctx.From(ctx).Warn("Voucher list cache invalidation failed", zap.Error(err))
	}
}
