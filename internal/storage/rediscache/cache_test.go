package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

type staticRepo struct {
	lists int
}

func (s *staticRepo) FindByCode(context.Context, string) (*voucher.Voucher, error) {
	return nil, voucher.ErrNotFound
}

func (s *staticRepo) List(context.Context) ([]voucher.Voucher, error) {
	s.lists++
	return []voucher.Voucher{{Code: "A"}}, nil
}

func (s *staticRepo) IncrementUsedCountIfBelowLimit(context.Context, *voucher.Redemption) error {
	return voucher.ErrExhausted
}

func TestNew_DefaultTTL(t *testing.T) {
	r := New(&staticRepo{}, nil, 0)
	assert.Equal(t, DefaultTTL, r.ttl)
}

// A Redis server that cannot be reached must not fail the read path.
func TestRepository_ListDegradesWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	backing := &staticRepo{}
	repo := New(backing, client, time.Minute)

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, backing.lists)

	err = repo.IncrementUsedCountIfBelowLimit(context.Background(), &voucher.Redemption{})
	assert.ErrorIs(t, err, voucher.ErrExhausted)
}
