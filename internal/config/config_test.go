package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/adboard/internal/domain"
)

const sampleTOML = `
mode = "full"
log_level = "debug"

[storage]
backend = "memory"

[catalog]
highlight_fee = 50000
boost_credit_price = 10000
boost_intervals = [1, 3]

[[catalog.tiers]]
id = "gold"
name = "Gold"
display_rank = 1
capacity = 5
duration_days = 30
price = 1000000

[[catalog.tiers]]
id = "silver"
name = "Silver"
display_rank = 2
capacity = 20
duration_days = 14
price = 300000

[boost]
tick_interval = "30s"

[server]
port = 9090
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Boost.TickInterval.Duration)
	assert.Equal(t, 8, cfg.Boost.Concurrency)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []int{1, 3}, cfg.Catalog.BoostIntervals)

	tiers := cfg.Catalog.TierDefinitions()
	require.Len(t, tiers, 2)
	assert.Equal(t, domain.TierDefinition{
		ID: "gold", Name: "Gold", DisplayRank: 1, Capacity: 5, DurationDays: 30, Price: 1_000_000,
	}, tiers[0])
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADBOARD_SERVER_PORT", "7000")
	t.Setenv("ADBOARD_NOTIFY_EVENTS", "listing.expired, boost.fired")
	t.Setenv("ADBOARD_SWEEPER_INTERVAL", "5m")
	t.Setenv("ADBOARD_MODE", "worker")
	t.Setenv("ADBOARD_STORAGE_BACKEND", "postgres")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, []string{"listing.expired", "boost.fired"}, cfg.Notify.Events)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.Interval.Duration)
	assert.True(t, cfg.RunsWorkers())
	assert.False(t, cfg.RunsAPI())
}

func TestValidateRejectsBadCatalog(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "memory"
	cfg.Catalog.Tiers = []TierConfig{
		{ID: "gold", Capacity: 0, DurationDays: 30},
		{ID: "gold", Capacity: 2, DurationDays: -1},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tier gold capacity must be > 0")
	assert.Contains(t, err.Error(), "duplicate tier id")
	assert.Contains(t, err.Error(), "duration_days must be > 0")
}

func TestValidateModesAndBackends(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"memory split mode", func(c *Config) { c.Mode = "api"; c.Storage.Backend = "memory" }, "memory backend requires mode full"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }, "unknown backend"},
		{"plain admin key", func(c *Config) { c.Server.AdminKeyHash = "hunter2" }, "bcrypt"},
		{"archive without retention", func(c *Config) { c.Archive.Enabled = true; c.Archive.RetentionDays = 0 }, "retention_days"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Catalog.Tiers = []TierConfig{{ID: "gold", Capacity: 1, DurationDays: 30}}
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Server.APIKey = "owner-key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.DiscordWebhookURL)
	assert.Empty(t, red.Redis.Password)

	red.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
}
