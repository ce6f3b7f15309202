// Package config defines the adboard configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ADBOARD_* environment variables.
type Config struct {
	Catalog  CatalogConfig  `toml:"catalog"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Boost    BoostConfig    `toml:"boost"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// TierConfig is one [[catalog.tiers]] entry.
type TierConfig struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	DisplayRank  int    `toml:"display_rank"`
	Capacity     int    `toml:"capacity"`
	DurationDays int    `toml:"duration_days"`
	// Price per period in minor currency units.
	Price int64 `toml:"price"`
}

// CatalogConfig holds the tier catalog and add-on pricing.
type CatalogConfig struct {
	Tiers            []TierConfig `toml:"tiers"`
	HighlightFee     int64        `toml:"highlight_fee"`
	BoostCreditPrice int64        `toml:"boost_credit_price"`
	BoostIntervals   []int        `toml:"boost_intervals"`
}

// TierDefinitions converts the configured tiers to domain definitions.
func (c CatalogConfig) TierDefinitions() []domain.TierDefinition {
	out := make([]domain.TierDefinition, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		out = append(out, domain.TierDefinition{
			ID:           domain.TierID(t.ID),
			Name:         t.Name,
			DisplayRank:  t.DisplayRank,
			Capacity:     t.Capacity,
			DurationDays: t.DurationDays,
			Price:        t.Price,
		})
	}
	return out
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	ConnMaxLifetime duration `toml:"conn_max_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Without Redis, locks are
// skipped, events stay in-process and the API is not rate limited.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// BoostConfig drives the periodic boost driver.
type BoostConfig struct {
	TickInterval duration `toml:"tick_interval"`
	BatchSize    int      `toml:"batch_size"`
	Concurrency  int      `toml:"concurrency"`
	LockTTL      duration `toml:"lock_ttl"`
}

// SweeperConfig drives the expiration sweeper.
type SweeperConfig struct {
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
	LockTTL   duration `toml:"lock_ttl"`
}

// ArchiveConfig controls moving old audit entries to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards owner routes. Empty disables the check.
	APIKey string `toml:"api_key"`
	// AdminKeyHash is the bcrypt hash of the admin key.
	AdminKeyHash    string   `toml:"admin_key_hash"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Catalog: CatalogConfig{
			BoostIntervals: []int{1, 3, 7},
		},
		Storage: StorageConfig{Backend: "postgres"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "adboard",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			ConnMaxLifetime: duration{30 * time.Minute},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "adboard-archive",
			ForcePathStyle: true,
		},
		Boost: BoostConfig{
			TickInterval: duration{time.Minute},
			BatchSize:    100,
			Concurrency:  8,
			LockTTL:      duration{55 * time.Second},
		},
		Sweeper: SweeperConfig{
			Interval:  duration{time.Minute},
			BatchSize: 500,
			LockTTL:   duration{55 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 180,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
			ShutdownTimeout: duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{
				domain.EventListingCreated,
				domain.EventApprovalBlocked,
				domain.EventSweepCompleted,
			},
			QueueSize: 256,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsAPI reports whether the mode serves HTTP.
func (c *Config) RunsAPI() bool { return c.Mode == "api" || c.Mode == "full" }

// RunsWorkers reports whether the mode runs the boost driver and sweeper.
func (c *Config) RunsWorkers() bool { return c.Mode == "worker" || c.Mode == "full" }

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. A tier with non-positive
// capacity or duration is always reported.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Catalog
	if len(c.Catalog.Tiers) == 0 {
		errs = append(errs, "catalog: at least one tier is required")
	}
	seen := make(map[string]bool, len(c.Catalog.Tiers))
	for i, t := range c.Catalog.Tiers {
		name := t.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Sprintf("catalog: tier %s has no id", name))
		}
		if seen[t.ID] && t.ID != "" {
			errs = append(errs, fmt.Sprintf("catalog: duplicate tier id %q", t.ID))
		}
		seen[t.ID] = true
		if t.Capacity <= 0 {
			errs = append(errs, fmt.Sprintf("catalog: tier %s capacity must be > 0, got %d", name, t.Capacity))
		}
		if t.DurationDays <= 0 {
			errs = append(errs, fmt.Sprintf("catalog: tier %s duration_days must be > 0, got %d", name, t.DurationDays))
		}
		if t.Price < 0 {
			errs = append(errs, fmt.Sprintf("catalog: tier %s price must be >= 0", name))
		}
	}
	if c.Catalog.HighlightFee < 0 || c.Catalog.BoostCreditPrice < 0 {
		errs = append(errs, "catalog: highlight_fee and boost_credit_price must be >= 0")
	}
	for _, d := range c.Catalog.BoostIntervals {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("catalog: boost interval %d must be > 0", d))
		}
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
		if c.Mode == "api" || c.Mode == "worker" {
			errs = append(errs, "storage: memory backend requires mode full (api and worker would not share state)")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, memory)", c.Storage.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Workers
	if c.Boost.TickInterval.Duration <= 0 {
		errs = append(errs, "boost: tick_interval must be > 0")
	}
	if c.Boost.Concurrency < 1 {
		errs = append(errs, "boost: concurrency must be >= 1")
	}
	if c.Sweeper.Interval.Duration <= 0 {
		errs = append(errs, "sweeper: interval must be > 0")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be > 0")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
	}

	// Server
	if c.RunsAPI() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AdminKeyHash != "" && !strings.HasPrefix(c.Server.AdminKeyHash, "$2") {
			errs = append(errs, "server: admin_key_hash must be a bcrypt hash")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
