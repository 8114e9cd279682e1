package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/zliveze/yumin-voucher/internal/notify"
	"github.com/zliveze/yumin-voucher/pkg/httpmiddleware"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
)

// Config holds the complete application configuration, loadable from
// environment variables (YUMIN_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage   StorageConfig
	Redis     RedisConfig
	MQTT      notify.Config
	Auth      AuthConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StorageConfig selects and locates the voucher store.
type StorageConfig struct {
	Driver        string `default:"postgres" usage:"Voucher store: postgres or mongodb"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (YUMIN_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI      string `usage:"MongoDB connection URI" flag:"mongo-uri"`
	MongoDatabase string `default:"yumin" usage:"MongoDB database name" flag:"mongo-database"`
}

// RedisConfig enables the voucher list cache when Addr is set.
type RedisConfig struct {
	Addr     string        `usage:"Redis address (host:port); empty disables the list cache"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"30s" usage:"Voucher list cache TTL"`
}

// AuthConfig holds the shopper token verification key.
type AuthConfig struct {
	JWTSecret string `usage:"HS256 secret used to verify shopper tokens (YUMIN_AUTH_JWT_SECRET)" flag:"jwt-secret"`
}

// RateLimitConfig controls the per-shopper limiter on the voucher API.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit refill window"`
	// TrustedProxies lists reverse proxies whose X-Forwarded-For is honoured.
	TrustedProxies []string `usage:"CIDRs or addresses of trusted reverse proxies" flag:"trusted-proxies"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "YUMIN",
		Files:     []string{"config.yaml", "/etc/yumin/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that cannot start the server.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set YUMIN_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMongoDB:
		if c.Storage.MongoURI == "" {
			return errors.New("mongo URI is required: set YUMIN_STORAGE_MONGO_URI")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required: set YUMIN_AUTH_JWT_SECRET")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	if _, err := httpmiddleware.ParseTrustedProxies(c.RateLimit.TrustedProxies); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's YUMIN_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Storage.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
