package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zliveze/yumin-voucher/internal/app"
	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
	"github.com/zliveze/yumin-voucher/internal/handler"
)

// seedNamespace keeps demo voucher ids stable across runs.
var seedNamespace = uuid.MustParse("5b0c2f0e-8d1a-4f43-9a57-3c1f0a6d2e11")

func main() {
	var (
		storage   app.StorageConfig
		jwtSecret string
		tokenTTL  time.Duration
	)

	flag.StringVar(&storage.Driver, "driver", app.DriverPostgres, "storage driver: postgres or mongodb")
	flag.StringVar(&storage.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&storage.MongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGO_URI env)")
	flag.StringVar(&storage.MongoDatabase, "mongo-database", "yumin", "MongoDB database name")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print demo shopper tokens signed with this secret (or YUMIN_AUTH_JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed demo tokens")
	flag.Parse()

	if storage.DatabaseURL == "" {
		storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if storage.MongoURI == "" {
		storage.MongoURI = os.Getenv("MONGO_URI")
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("YUMIN_AUTH_JWT_SECRET")
	}

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, storage); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	if jwtSecret != "" {
		if err := printTokens(lg, []byte(jwtSecret), tokenTTL); err != nil {
			lg.Fatal("Issue demo tokens", zap.Error(err))
		}
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, cfg app.StorageConfig) error {
	lg.Info("Connecting to store", zap.String("driver", cfg.Driver))

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	for _, v := range demoVouchers(time.Now().UTC()) {
		if err := store.Upsert(ctx, &v); err != nil {
			return errors.Wrapf(err, "upsert voucher %s", v.Code)
		}
		lg.Info("Upserted voucher", zap.String("code", v.Code), zap.String("description", v.Description))
	}
	return nil
}

func demoVouchers(now time.Time) []voucher.Voucher {
	start := now.AddDate(0, -1, 0).Truncate(24 * time.Hour)
	end := now.AddDate(0, 3, 0).Truncate(24 * time.Hour)
	cap30k := decimal.NewFromInt(30000)
	cap100k := decimal.NewFromInt(100000)

	vs := []voucher.Voucher{
		{
			Code:                 "YUMIN10",
			Description:          "10% off orders from 100.000₫, up to 30.000₫",
			DiscountType:         voucher.DiscountPercentage,
			DiscountValue:        decimal.NewFromInt(10),
			MaxDiscountAmount:    &cap30k,
			MinimumOrderValue:    decimal.NewFromInt(100000),
			StartDate:            start,
			EndDate:              end,
			UsageLimit:           1000,
			ApplicableUserGroups: voucher.Unrestricted(),
		},
		{
			Code:                 "GIAM20K",
			Description:          "20.000₫ off orders from 150.000₫",
			DiscountType:         voucher.DiscountFixed,
			DiscountValue:        decimal.NewFromInt(20000),
			MinimumOrderValue:    decimal.NewFromInt(150000),
			StartDate:            start,
			EndDate:              end,
			UsageLimit:           500,
			ApplicableUserGroups: voucher.Unrestricted(),
		},
		{
			Code:                 "VIP25",
			Description:          "25% off for VIP members, up to 100.000₫",
			DiscountType:         voucher.DiscountPercentage,
			DiscountValue:        decimal.NewFromInt(25),
			MaxDiscountAmount:    &cap100k,
			MinimumOrderValue:    decimal.NewFromInt(300000),
			StartDate:            start,
			EndDate:              end,
			UsageLimit:           100,
			ApplicableUserGroups: voucher.UserGroups{Levels: []string{"vip"}},
		},
		{
			Code:                 "WELCOME50K",
			Description:          "50.000₫ off the first order",
			DiscountType:         voucher.DiscountFixed,
			DiscountValue:        decimal.NewFromInt(50000),
			MinimumOrderValue:    decimal.NewFromInt(200000),
			StartDate:            start,
			EndDate:              end,
			UsageLimit:           1000,
			ApplicableUserGroups: voucher.UserGroups{New: true},
		},
		{
			Code:                 "TET2025",
			Description:          "Expired Lunar New Year promotion",
			DiscountType:         voucher.DiscountPercentage,
			DiscountValue:        decimal.NewFromInt(15),
			MinimumOrderValue:    decimal.Zero,
			StartDate:            time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
			EndDate:              time.Date(2025, 2, 12, 23, 59, 59, 0, time.UTC),
			UsageLimit:           200,
			ApplicableUserGroups: voucher.Unrestricted(),
		},
	}
	for i := range vs {
		vs[i].ID = uuid.NewSHA1(seedNamespace, []byte(vs[i].Code)).String()
	}
	return vs
}

func printTokens(lg *zap.Logger, secret []byte, ttl time.Duration) error {
	auth := handler.NewAuthenticator(secret)
	shoppers := []voucher.Shopper{
		{ID: "demo-regular", CustomerLevel: "regular"},
		{ID: "demo-vip", CustomerLevel: "vip"},
		{ID: "demo-new", CustomerLevel: voucher.LevelNew},
	}
	for _, s := range shoppers {
		token, err := auth.Issue(s, ttl)
		if err != nil {
			return err
		}
		lg.Info("Demo token",
			zap.String("user_id", s.ID),
			zap.String("customer_level", s.CustomerLevel),
			zap.String("token", token),
		)
	}
	return nil
}
