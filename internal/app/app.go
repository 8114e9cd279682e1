// Package app wires configuration, storage and the HTTP server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
	"github.com/zliveze/yumin-voucher/internal/handler"
	"github.com/zliveze/yumin-voucher/internal/notify"
	"github.com/zliveze/yumin-voucher/internal/storage/rediscache"
	"github.com/zliveze/yumin-voucher/pkg/health"
	"github.com/zliveze/yumin-voucher/pkg/httpmiddleware"
)

const serviceName = "yumin-voucher"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	store, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			lg.Warn("Store close failed", zap.Error(err))
		}
	}()

	healthSvc := health.New()
	healthSvc.AddReadinessCheck(cfg.Storage.Driver, 5*time.Second, health.PingCheck(cfg.Storage.Driver, store))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var repo voucher.Repository = store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", redisPinger{rdb}))
		repo = rediscache.New(store, rdb, cfg.Redis.TTL)
		lg.Info("Voucher list cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	var notifier voucher.Notifier = voucher.NopNotifier{}
	if cfg.MQTT.Enabled() {
		client, err := notify.Connect(cfg.MQTT)
		if err != nil {
			return errors.Wrap(err, "connect mqtt")
		}
		defer client.Disconnect(250)
		healthSvc.AddReadinessCheck("mqtt", time.Second, func(context.Context) error {
			if !client.IsConnectionOpen() {
				return errors.New("mqtt connection is not open")
			}
			return nil
		})
		notifier = notify.NewNotifier(client, cfg.MQTT)
		lg.Info("Redemption notifications enabled", zap.String("broker", cfg.MQTT.BrokerURL))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	svc := voucher.NewService(repo, notifier)
	h, err := handler.NewHandler(svc, m.MeterProvider().Meter(serviceName))
	if err != nil {
		return errors.Wrap(err, "create handler")
	}
	auth := handler.NewAuthenticator([]byte(cfg.Auth.JWTSecret))
	proxies, err := httpmiddleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return errors.Wrap(err, "parse trusted proxies")
	}

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.LogRequests(),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.Origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Group(func(r chi.Router) {
		r.Use(
			auth.Middleware,
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: shopperKey(httpmiddleware.ClientIPResolver(proxies)),
			}),
		)
		h.Routes(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument(serviceName, m),
		),
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// shopperKey rate limits signed-in shoppers by id and everyone else by IP.
func shopperKey(clientIP func(*http.Request) string) func(*http.Request) string {
	return func(r *http.Request) string {
		if s := handler.ShopperFrom(r.Context()); s.ID != "" {
			return "user:" + s.ID
		}
		return "ip:" + clientIP(r)
	}
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
