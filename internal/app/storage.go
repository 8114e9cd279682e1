package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
	"github.com/zliveze/yumin-voucher/internal/storage/mongodb"
	"github.com/zliveze/yumin-voucher/internal/storage/postgres"
)

// Store is an opened voucher store with the maintenance operations used by
// the server and the CLI tools.
type Store interface {
	voucher.Repository
	Upsert(ctx context.Context, v *voucher.Voucher) error
	ForEachCode(ctx context.Context, fn func(code string) error) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// OpenStore connects to the configured driver and prepares its schema.
func OpenStore(ctx context.Context, cfg StorageConfig) (Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &postgresStore{VoucherRepository: postgres.NewVoucherRepository(pool), pool: pool}, nil
	case DriverMongoDB:
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.MongoDatabase)
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(ctx)
			return nil, errors.Wrap(err, "ensure indexes")
		}
		return &mongoStore{VoucherRepository: mongodb.NewVoucherRepository(db), client: client}, nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

type postgresStore struct {
	*postgres.VoucherRepository
	pool *pgxpool.Pool
}

func (s *postgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *postgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

type mongoStore struct {
	*mongodb.VoucherRepository
	client *mongo.Client
}

func (s *mongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, readpref.Primary()) }

func (s *mongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }
