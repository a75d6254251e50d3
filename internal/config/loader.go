package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies EDGEFINDER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EDGEFINDER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are expected to arrive this way rather than in the file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "EDGEFINDER_MODE")
	setStr(&cfg.LogLevel, "EDGEFINDER_LOG_LEVEL")
	setStr(&cfg.Storage.Driver, "EDGEFINDER_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias; the prefixed name wins
	setStr(&cfg.Postgres.DSN, "EDGEFINDER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "EDGEFINDER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EDGEFINDER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EDGEFINDER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EDGEFINDER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EDGEFINDER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EDGEFINDER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EDGEFINDER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EDGEFINDER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EDGEFINDER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "EDGEFINDER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "EDGEFINDER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EDGEFINDER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EDGEFINDER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EDGEFINDER_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "EDGEFINDER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "EDGEFINDER_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "EDGEFINDER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "EDGEFINDER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EDGEFINDER_S3_REGION")
	setStr(&cfg.S3.Bucket, "EDGEFINDER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "EDGEFINDER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "EDGEFINDER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EDGEFINDER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EDGEFINDER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EDGEFINDER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "EDGEFINDER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "EDGEFINDER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "EDGEFINDER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "EDGEFINDER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "EDGEFINDER_SERVER_RATE_WINDOW")

	// ── Venues ──
	setStr(&cfg.Venues.Polymarket.GammaHost, "EDGEFINDER_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Venues.Polymarket.Pattern, "EDGEFINDER_POLYMARKET_PATTERN")
	setInt(&cfg.Venues.Polymarket.MaxPages, "EDGEFINDER_POLYMARKET_MAX_PAGES")
	setStr(&cfg.Venues.Kalshi.BaseURL, "EDGEFINDER_KALSHI_BASE_URL")
	setStr(&cfg.Venues.Kalshi.APIKey, "EDGEFINDER_KALSHI_API_KEY")
	setStr(&cfg.Venues.Kalshi.Category, "EDGEFINDER_KALSHI_CATEGORY")
	setInt(&cfg.Venues.Kalshi.MaxPages, "EDGEFINDER_KALSHI_MAX_PAGES")

	// ── Embedding ──
	setStr(&cfg.Embedding.BaseURL, "EDGEFINDER_EMBEDDING_BASE_URL")
	setStr(&cfg.Embedding.APIKey, "OPENAI_API_KEY")
	setStr(&cfg.Embedding.APIKey, "EDGEFINDER_EMBEDDING_API_KEY")
	setStr(&cfg.Embedding.Model, "EDGEFINDER_EMBEDDING_MODEL")

	// ── Matcher / snapshot / pipeline ──
	setFloat64(&cfg.Matcher.Floor, "EDGEFINDER_MATCHER_FLOOR")
	setDuration(&cfg.Snapshot.TTL, "EDGEFINDER_SNAPSHOT_TTL")
	setDuration(&cfg.Pipeline.Interval, "EDGEFINDER_PIPELINE_INTERVAL")
	setDuration(&cfg.Pipeline.LockTTL, "EDGEFINDER_PIPELINE_LOCK_TTL")

	// ── Amp ──
	setBool(&cfg.Amp.Enabled, "EDGEFINDER_AMP_ENABLED")
	setBool(&cfg.Amp.DemoMode, "EDGEFINDER_AMP_DEMO_MODE")
	setStr(&cfg.Amp.APIURL, "EDGEFINDER_AMP_API_URL")
	setStr(&cfg.Amp.APIKey, "EDGEFINDER_AMP_API_KEY")
	setStr(&cfg.Amp.ProjectID, "EDGEFINDER_AMP_PROJECT_ID")
	setStr(&cfg.Amp.DatasetID, "EDGEFINDER_AMP_DATASET_ID")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EDGEFINDER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EDGEFINDER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EDGEFINDER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EDGEFINDER_NOTIFY_EVENTS")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
