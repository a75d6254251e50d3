package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edgefinder.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "pipeline"
log_level = "debug"

[storage]
driver = "memory"

[snapshot]
ttl = "30m"

[venues.kalshi]
category = "Economics"
max_pages = 2

[matcher]
floor = 0.85

[pipeline]
interval = "5m"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "pipeline" || cfg.LogLevel != "debug" || cfg.Storage.Driver != "memory" {
		t.Errorf("top level = %s/%s/%s", cfg.Mode, cfg.LogLevel, cfg.Storage.Driver)
	}
	if cfg.Snapshot.TTL.Duration != 30*time.Minute {
		t.Errorf("Snapshot.TTL = %v, want 30m", cfg.Snapshot.TTL.Duration)
	}
	if cfg.Pipeline.Interval.Duration != 5*time.Minute {
		t.Errorf("Pipeline.Interval = %v, want 5m", cfg.Pipeline.Interval.Duration)
	}
	if cfg.Venues.Kalshi.Category != "Economics" || cfg.Venues.Kalshi.MaxPages != 2 {
		t.Errorf("Kalshi = %+v", cfg.Venues.Kalshi)
	}
	// Untouched sections keep their defaults.
	if cfg.Venues.Kalshi.PageSize != 200 || cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("defaults lost: page_size=%d model=%s", cfg.Venues.Kalshi.PageSize, cfg.Embedding.Model)
	}
	if cfg.Matcher.Floor != 0.85 {
		t.Errorf("Matcher.Floor = %v, want 0.85", cfg.Matcher.Floor)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, "[snapshot]\nttl_minutes = 60\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "snapshot.ttl_minutes") {
		t.Errorf("Load err = %v, want unknown key snapshot.ttl_minutes", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load(missing) = nil error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "[embedding]\napi_key = \"from-file\"\n")
	t.Setenv("EDGEFINDER_MODE", "once")
	t.Setenv("EDGEFINDER_EMBEDDING_API_KEY", "from-env")
	t.Setenv("OPENAI_API_KEY", "generic")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/alias")
	t.Setenv("EDGEFINDER_POSTGRES_DSN", "postgres://u:secret@db:5432/edgefinder")
	t.Setenv("EDGEFINDER_SNAPSHOT_TTL", "2h")
	t.Setenv("EDGEFINDER_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("EDGEFINDER_REDIS_ENABLED", "false")
	t.Setenv("EDGEFINDER_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "once" {
		t.Errorf("Mode = %s, want once", cfg.Mode)
	}
	if cfg.Embedding.APIKey != "from-env" {
		t.Errorf("Embedding.APIKey = %s, want the prefixed variable", cfg.Embedding.APIKey)
	}
	if cfg.Postgres.DSN != "postgres://u:secret@db:5432/edgefinder" {
		t.Errorf("Postgres.DSN = %s", cfg.Postgres.DSN)
	}
	if cfg.Snapshot.TTL.Duration != 2*time.Hour {
		t.Errorf("Snapshot.TTL = %v, want 2h", cfg.Snapshot.TTL.Duration)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("CORSOrigins = %s", got)
	}
	if cfg.Redis.Enabled {
		t.Error("Redis.Enabled = true, want false")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default kept on malformed env", cfg.Server.Port)
	}
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage.Driver = "sqlite"
	cfg.Matcher.Floor = 0.1
	cfg.Snapshot.TTL.Duration = 0
	cfg.Venues.Polymarket.Pattern = "(["
	cfg.Notify.TelegramToken = "t"
	cfg.Amp.Enabled = true
	cfg.Amp.DemoMode = false

	err := cfg.Validate()
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Validate = %v, want ErrConfiguration", err)
	}
	if domain.KindOf(err) != domain.KindConfiguration {
		t.Errorf("KindOf = %s", domain.KindOf(err))
	}
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown driver "sqlite"`,
		"matcher: floor",
		"snapshot: ttl",
		"venues.polymarket: pattern",
		"telegram_token and telegram_chat_id",
		"amp: api_key",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_MemoryDriverSkipsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Driver = "memory"
	cfg.Postgres.Host = ""
	cfg.Postgres.PoolMaxConns = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://edge:hunter2@db:5432/edgefinder"
	cfg.Embedding.APIKey = "sk-live"
	cfg.Notify.DiscordWebhookURL = "https://discord.com/api/webhooks/1/abc"
	cfg.Server.APIKey = "admin"

	out := cfg.Redacted()
	if strings.Contains(out.Postgres.DSN, "hunter2") || !strings.Contains(out.Postgres.DSN, "db:5432") {
		t.Errorf("Postgres.DSN = %s", out.Postgres.DSN)
	}
	if out.Embedding.APIKey != "***" || out.Notify.DiscordWebhookURL != "***" || out.Server.APIKey != "***" {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if out.Redis.Password != "" {
		t.Errorf("empty secret became %q", out.Redis.Password)
	}
	if cfg.Embedding.APIKey != "sk-live" {
		t.Error("Redacted mutated the original")
	}
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Error("Redacted shares CORSOrigins with the original")
	}
}
