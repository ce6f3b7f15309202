package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ADBOARD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ADBOARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Secrets
// are expected to arrive this way rather than in the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Storage.Backend, "ADBOARD_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ADBOARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "ADBOARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ADBOARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ADBOARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ADBOARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ADBOARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ADBOARD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ADBOARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ADBOARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ADBOARD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ADBOARD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ADBOARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ADBOARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ADBOARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ADBOARD_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ADBOARD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ADBOARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ADBOARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ADBOARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ADBOARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ADBOARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ADBOARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ADBOARD_S3_FORCE_PATH_STYLE")

	// ── Workers ──
	setDuration(&cfg.Boost.TickInterval, "ADBOARD_BOOST_TICK_INTERVAL")
	setInt(&cfg.Boost.Concurrency, "ADBOARD_BOOST_CONCURRENCY")
	setDuration(&cfg.Sweeper.Interval, "ADBOARD_SWEEPER_INTERVAL")
	setInt(&cfg.Sweeper.BatchSize, "ADBOARD_SWEEPER_BATCH_SIZE")
	setBool(&cfg.Archive.Enabled, "ADBOARD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ADBOARD_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "ADBOARD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ADBOARD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ADBOARD_SERVER_API_KEY")
	setStr(&cfg.Server.AdminKeyHash, "ADBOARD_SERVER_ADMIN_KEY_HASH")
	setInt(&cfg.Server.RateLimit, "ADBOARD_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ADBOARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ADBOARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ADBOARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ADBOARD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ADBOARD_MODE")
	setStr(&cfg.LogLevel, "ADBOARD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
