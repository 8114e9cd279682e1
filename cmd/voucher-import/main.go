package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zliveze/yumin-voucher/internal/app"
	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
	"github.com/zliveze/yumin-voucher/internal/storage/rediscache"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000
)

type options struct {
	storage   app.StorageConfig
	redisAddr string
	overwrite bool
	workers   int
	expected  uint
}

func main() {
	var opts options
	flag.StringVar(&opts.storage.Driver, "driver", app.DriverPostgres, "storage driver: postgres or mongodb")
	flag.StringVar(&opts.storage.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.storage.MongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGO_URI env)")
	flag.StringVar(&opts.storage.MongoDatabase, "mongo-database", "yumin", "MongoDB database name")
	flag.StringVar(&opts.redisAddr, "redis-addr", "", "drop the API's cached voucher list after importing")
	flag.BoolVar(&opts.overwrite, "overwrite", false, "update vouchers whose code already exists")
	flag.IntVar(&opts.workers, "workers", 8, "concurrent upserts")
	flag.UintVar(&opts.expected, "expected-codes", 1_000_000, "expected number of stored codes, sizes the bloom filter")
	flag.Parse()

	if opts.storage.DatabaseURL == "" {
		opts.storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.storage.MongoURI == "" {
		opts.storage.MongoURI = os.Getenv("MONGO_URI")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("usage: voucher-import [flags] FILE.csv[.gz]...")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts, files); err != nil {
		lg.Fatal("Voucher import failed", zap.Error(err))
	}
	lg.Info("Voucher import completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options, files []string) error {
	vouchers, err := readFiles(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Parsed input", zap.Int("files", len(files)), zap.Int("vouchers", len(vouchers)))

	store, err := app.OpenStore(ctx, opts.storage)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	stats, err := importVouchers(ctx, lg, store, vouchers, opts)
	if err != nil {
		return err
	}
	lg.Info("Import summary",
		zap.Int64("written", stats.written.Load()),
		zap.Int64("skipped", stats.skipped.Load()),
	)

	if opts.redisAddr != "" && stats.written.Load() > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rediscache.New(store, rdb, 0).Invalidate(ctx); err != nil {
			lg.Warn("Voucher list cache not invalidated", zap.Error(err))
		}
	}
	return nil
}

// readFiles parses every input concurrently and rejects codes that appear
// more than once across all of them.
func readFiles(ctx context.Context, files []string) ([]voucher.Voucher, error) {
	parsed := make([][]voucher.Voucher, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			vs, err := readFile(gctx, path)
			if err != nil {
				return err
			}
			parsed[i] = vs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merge(files, parsed)
}

func merge(files []string, parsed [][]voucher.Voucher) ([]voucher.Voucher, error) {
	seen := make(map[string]string)
	var out []voucher.Voucher
	for i, vs := range parsed {
		for _, v := range vs {
			if prev, ok := seen[v.Code]; ok {
				return nil, errors.Errorf("duplicate code %q in %s (first seen in %s)", v.Code, files[i], prev)
			}
			seen[v.Code] = files[i]
			out = append(out, v)
		}
	}
	return out, nil
}

type importStore interface {
	ForEachCode(ctx context.Context, fn func(code string) error) error
	FindByCode(ctx context.Context, code string) (*voucher.Voucher, error)
	Upsert(ctx context.Context, v *voucher.Voucher) error
}

type importStats struct {
	written atomic.Int64
	skipped atomic.Int64
}

// importVouchers writes vouchers to the store. Existing codes are skipped
// unless overwrite is set. Stored codes are streamed into a bloom filter, so
// memory stays bounded by the filter size; a lookup confirms only the codes
// the filter reports as possibly stored.
func importVouchers(ctx context.Context, lg *zap.Logger, st importStore, vouchers []voucher.Voucher, opts options) (*importStats, error) {
	var existing *bloom.BloomFilter
	if !opts.overwrite {
		existing = bloom.NewWithEstimates(max(opts.expected, 1), bloomFPR)
		var n int
		if err := st.ForEachCode(ctx, func(code string) error {
			existing.AddString(code)
			n++
			return nil
		}); err != nil {
			return nil, errors.Wrap(err, "scan stored codes")
		}
		lg.Info("Loaded stored codes", zap.Int("count", n))
	}

	stats := &importStats{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for i := range vouchers {
		v := &vouchers[i]
		g.Go(func() error {
			if existing != nil && existing.TestString(v.Code) {
				_, err := st.FindByCode(gctx, v.Code)
				switch {
				case err == nil:
					stats.skipped.Add(1)
					return nil
				case !errors.Is(err, voucher.ErrNotFound):
					return errors.Wrapf(err, "look up %s", v.Code)
				}
			}
			if v.ID == "" {
				v.ID = uuid.NewString()
			}
			if err := st.Upsert(gctx, v); err != nil {
				return errors.Wrapf(err, "upsert %s", v.Code)
			}
			if n := stats.written.Add(1); n%progressEvery == 0 {
				lg.Info("Import progress", zap.Int64("written", n))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}
