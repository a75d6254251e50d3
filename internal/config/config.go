// Package config defines the top-level configuration for edgefinder and
// provides validation helpers.
package config

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by EDGEFINDER_* environment variables.
type Config struct {
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Venues    VenuesConfig    `toml:"venues"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Matcher   MatcherConfig   `toml:"matcher"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Scorer    ScorerConfig    `toml:"scorer"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Retry     RetryConfig     `toml:"retry"`
	Amp       AmpConfig       `toml:"amp"`
	Notify    NotifyConfig    `toml:"notify"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps everything
	// in-process and is meant for local runs and demos.
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. With Redis disabled the run
// lock, event bus and rate limiter fall back to in-process implementations.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"` // guards write routes; empty refuses every write
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"` // requests per window per client; 0 disables
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// VenuesConfig groups the venue API settings.
type VenuesConfig struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
}

// PolymarketConfig holds Gamma API parameters.
type PolymarketConfig struct {
	GammaHost  string `toml:"gamma_host"`
	Pattern    string `toml:"pattern"` // keyword regex selecting relevant questions
	PageSize   int    `toml:"page_size"`
	MaxPages   int    `toml:"max_pages"`
	MaxMarkets int    `toml:"max_markets"`
}

// KalshiConfig holds Kalshi trade API parameters.
type KalshiConfig struct {
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	Category   string `toml:"category"`
	PageSize   int    `toml:"page_size"`
	MaxPages   int    `toml:"max_pages"`
	MaxMarkets int    `toml:"max_markets"`
}

// EmbeddingConfig holds the OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	BatchSize int    `toml:"batch_size"`
	Workers   int    `toml:"workers"`
}

// MatcherConfig tunes cross-venue matching.
type MatcherConfig struct {
	Floor      float64 `toml:"floor"`
	Candidates int     `toml:"candidates"`
}

// SnapshotConfig controls shared dataset lifetime.
type SnapshotConfig struct {
	TTL duration `toml:"ttl"`
}

// ScorerConfig holds edge quality weights and thresholds.
type ScorerConfig struct {
	AverageWeight     float64 `toml:"average_weight"`
	DurationWeight    float64 `toml:"duration_weight"`
	CountWeight       float64 `toml:"count_weight"`
	CountDivisor      float64 `toml:"count_divisor"`
	PersistentMinutes float64 `toml:"persistent_minutes"`
	PersistentSamples int     `toml:"persistent_samples"`
	StableRange       float64 `toml:"stable_range"`
}

// PipelineConfig holds scheduling parameters for the orchestrator.
type PipelineConfig struct {
	Interval duration `toml:"interval"`
	LockKey  string   `toml:"lock_key"`
	LockTTL  duration `toml:"lock_ttl"`
}

// RetryConfig is the retry policy shared by every outbound HTTP client.
type RetryConfig struct {
	MaxRetries int      `toml:"max_retries"`
	BaseDelay  duration `toml:"base_delay"`
	MaxJitter  duration `toml:"max_jitter"`
	Timeout    duration `toml:"timeout"`
}

// AmpConfig holds the optional edge publication sink.
type AmpConfig struct {
	Enabled   bool   `toml:"enabled"`
	DemoMode  bool   `toml:"demo_mode"`
	APIURL    string `toml:"api_url"`
	APIKey    string `toml:"api_key"`
	ProjectID string `toml:"project_id"`
	DatasetID string `toml:"dataset_id"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in edgefinder.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Storage:  StorageConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "edgefinder",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "edgefinder:",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "edgefinder-data",
			Prefix:         "edgefinder/",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Venues: VenuesConfig{
			Polymarket: PolymarketConfig{
				GammaHost:  "https://gamma-api.polymarket.com",
				Pattern:    `(?i)\b(election|president|senate|congress|governor|vote|political|campaign|trump|harris|democrat|republican|gop|ballot|cabinet|nomination)`,
				PageSize:   100,
				MaxPages:   10,
				MaxMarkets: 1000,
			},
			Kalshi: KalshiConfig{
				BaseURL:    "https://api.elections.kalshi.com/trade-api/v2",
				Category:   "Politics",
				PageSize:   200,
				MaxPages:   5,
				MaxMarkets: 1000,
			},
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			BatchSize: 64,
			Workers:   4,
		},
		Matcher:  MatcherConfig{Floor: 0.80, Candidates: 1},
		Snapshot: SnapshotConfig{TTL: duration{time.Hour}},
		Scorer: ScorerConfig{
			AverageWeight:     0.4,
			DurationWeight:    0.3,
			CountWeight:       0.3,
			CountDivisor:      60,
			PersistentMinutes: 30,
			PersistentSamples: 3,
			StableRange:       3.0,
		},
		Pipeline: PipelineConfig{
			Interval: duration{15 * time.Minute},
			LockKey:  "lock:pipeline:run",
			LockTTL:  duration{10 * time.Minute},
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  duration{300 * time.Millisecond},
			MaxJitter:  duration{100 * time.Millisecond},
			Timeout:    duration{10 * time.Second},
		},
		Amp: AmpConfig{
			APIURL:    "https://gateway.amp.staging.thegraph.com",
			ProjectID: "edgeandnode",
			DatasetID: "prediction-market-edges",
			DemoMode:  true,
		},
		Notify: NotifyConfig{
			Events: []string{"run.failed", "run.degraded"},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"pipeline": true,
	"once":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. The error wraps
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, pipeline, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
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
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
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

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	// Server
	if c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Venues
	if c.Venues.Polymarket.GammaHost == "" {
		errs = append(errs, "venues.polymarket: gamma_host must not be empty")
	}
	if c.Venues.Polymarket.Pattern != "" {
		if _, err := regexp.Compile(c.Venues.Polymarket.Pattern); err != nil {
			errs = append(errs, fmt.Sprintf("venues.polymarket: pattern: %v", err))
		}
	}
	if c.Venues.Kalshi.BaseURL == "" {
		errs = append(errs, "venues.kalshi: base_url must not be empty")
	}
	if c.Venues.Polymarket.PageSize < 1 || c.Venues.Kalshi.PageSize < 1 {
		errs = append(errs, "venues: page_size must be >= 1")
	}

	// Embedding. A missing API key is reported by the fetch stage at run time
	// so the server can still serve existing snapshots.
	if c.Embedding.BaseURL == "" {
		errs = append(errs, "embedding: base_url must not be empty")
	}

	// Matcher
	if c.Matcher.Floor < 0.5 || c.Matcher.Floor > 1 {
		errs = append(errs, fmt.Sprintf("matcher: floor must be in [0.5, 1], got %v", c.Matcher.Floor))
	}

	// Snapshot
	if c.Snapshot.TTL.Duration <= 0 {
		errs = append(errs, "snapshot: ttl must be positive")
	}

	// Scorer
	for name, v := range map[string]float64{
		"average_weight":     c.Scorer.AverageWeight,
		"duration_weight":    c.Scorer.DurationWeight,
		"count_weight":       c.Scorer.CountWeight,
		"persistent_minutes": c.Scorer.PersistentMinutes,
		"stable_range":       c.Scorer.StableRange,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Sprintf("scorer: %s must be a non-negative number", name))
		}
	}
	if c.Scorer.CountDivisor <= 0 {
		errs = append(errs, "scorer: count_divisor must be > 0")
	}

	// Pipeline
	if c.Pipeline.Interval.Duration <= 0 {
		errs = append(errs, "pipeline: interval must be positive")
	}
	if c.Pipeline.LockTTL.Duration <= 0 {
		errs = append(errs, "pipeline: lock_ttl must be positive")
	}

	// Retry
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry: max_retries must be >= 0")
	}

	// Amp
	if c.Amp.Enabled && !c.Amp.DemoMode {
		if c.Amp.APIKey == "" {
			errs = append(errs, "amp: api_key is required when enabled")
		}
		if c.Amp.DatasetID == "" {
			errs = append(errs, "amp: dataset_id is required when enabled")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w:\n  - %s", domain.ErrConfiguration, strings.Join(errs, "\n  - "))
	}
	return nil
}

