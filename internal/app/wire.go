package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/edgefinder/internal/blob/s3"
	"github.com/alanyoungcy/edgefinder/internal/cache/local"
	"github.com/alanyoungcy/edgefinder/internal/cache/redis"
	"github.com/alanyoungcy/edgefinder/internal/config"
	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/edge"
	"github.com/alanyoungcy/edgefinder/internal/matcher"
	"github.com/alanyoungcy/edgefinder/internal/normalize"
	"github.com/alanyoungcy/edgefinder/internal/notify"
	"github.com/alanyoungcy/edgefinder/internal/pipeline"
	"github.com/alanyoungcy/edgefinder/internal/platform/amp"
	"github.com/alanyoungcy/edgefinder/internal/platform/embedding"
	"github.com/alanyoungcy/edgefinder/internal/platform/httpx"
	"github.com/alanyoungcy/edgefinder/internal/platform/kalshi"
	"github.com/alanyoungcy/edgefinder/internal/platform/polymarket"
	"github.com/alanyoungcy/edgefinder/internal/server/handler"
	"github.com/alanyoungcy/edgefinder/internal/service"
	"github.com/alanyoungcy/edgefinder/internal/store/memory"
	"github.com/alanyoungcy/edgefinder/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need. It is constructed by Wire and torn down by the returned cleanup
// function. Optional fields are nil when their backend is disabled.
type Dependencies struct {
	// Stores
	MarketStore      domain.MarketStore
	MatchStore       domain.MatchStore
	DatasetStore     domain.DatasetStore
	EntitlementStore domain.EntitlementStore
	EdgeStore        domain.EdgeStore
	RunStore         domain.RunStore
	AuditStore       domain.AuditStore

	// Caches and coordination
	DatasetCache domain.DatasetCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Blob storage
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Services
	Datasets *service.DatasetService
	Edges    *service.EdgeService

	Orchestrator *pipeline.Orchestrator
	Notifier     *notify.Notifier

	// Health lists the backends reported by /healthz.
	Health map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{Health: map[string]handler.Pinger{}}

	// --- Stores ---
	switch cfg.Storage.Driver {
	case "memory":
		st := memory.New()
		deps.MarketStore = st.Markets()
		deps.MatchStore = st.Matches()
		deps.DatasetStore = st.Datasets()
		deps.EntitlementStore = st.Entitlements()
		deps.EdgeStore = st.Edges()
		deps.RunStore = st.Runs()
		deps.AuditStore = st.Audit()
		logger.WarnContext(ctx, "wire: using in-memory storage; nothing survives a restart")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.MatchStore = postgres.NewMatchStore(pool)
		deps.DatasetStore = postgres.NewDatasetStore(pool)
		deps.EntitlementStore = postgres.NewEntitlementStore(pool)
		deps.EdgeStore = postgres.NewEdgeStore(pool)
		deps.RunStore = postgres.NewRunStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient
	}

	// --- Redis, or in-process stand-ins ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.DatasetCache = redis.NewDatasetCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient
	} else {
		deps.LockManager = local.NewLockManager()
		deps.SignalBus = local.NewBus(0)
		logger.InfoContext(ctx, "wire: redis disabled; locks and events are process-local, rate limiting is off")
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.AuditStore)
		deps.Health["s3"] = handler.PingFunc(s3Client.Health)
	}

	// --- Services ---
	scorer := edge.NewScorer(
		edge.Weights{
			Average:      cfg.Scorer.AverageWeight,
			Duration:     cfg.Scorer.DurationWeight,
			Count:        cfg.Scorer.CountWeight,
			CountDivisor: cfg.Scorer.CountDivisor,
		},
		edge.Rules{
			PersistentMinutes: cfg.Scorer.PersistentMinutes,
			PersistentSamples: cfg.Scorer.PersistentSamples,
			StableRange:       cfg.Scorer.StableRange,
		},
	)
	deps.Datasets = service.NewDatasetService(
		deps.DatasetStore, deps.EntitlementStore, deps.DatasetCache, deps.AuditStore,
		cfg.Snapshot.TTL.Duration, logger,
	)
	deps.Edges = service.NewEdgeService(deps.EdgeStore, scorer, logger)

	// --- Notifications ---
	policy := retryPolicy(cfg.Retry)
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			policy, logger,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, policy, logger))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	orch, err := newOrchestrator(cfg, deps, policy, logger)
	if err != nil {
		return fail("wire: pipeline: %w", err)
	}
	deps.Orchestrator = orch

	return deps, cleanup, nil
}

// newOrchestrator builds the venue clients and the pipeline around them.
// A missing embedding key is not fatal here: every run then reports the
// fetch stage as a configuration error.
func newOrchestrator(cfg *config.Config, deps *Dependencies, policy httpx.RetryPolicy, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	filter, err := normalize.NewFilter(cfg.Venues.Polymarket.Pattern, cfg.Venues.Kalshi.Category)
	if err != nil {
		return nil, fmt.Errorf("polymarket pattern: %v: %w", err, domain.ErrConfiguration)
	}

	pm := cfg.Venues.Polymarket
	ks := cfg.Venues.Kalshi
	d := pipeline.Deps{
		Polymarket: pipeline.NewPolymarketSource(
			polymarket.NewGammaClient(pm.GammaHost, policy, logger),
			pipeline.SourceConfig{PageSize: pm.PageSize, MaxPages: pm.MaxPages, MaxMarkets: pm.MaxMarkets},
			logger,
		),
		Kalshi: pipeline.NewKalshiSource(
			kalshi.NewClient(ks.BaseURL, ks.APIKey, policy, logger),
			pipeline.SourceConfig{PageSize: ks.PageSize, MaxPages: ks.MaxPages, MaxMarkets: ks.MaxMarkets, Category: ks.Category},
			logger,
		),
		Scraper:  pipeline.NewMarketScraper(filter, logger),
		Markets:  deps.MarketStore,
		Matches:  deps.MatchStore,
		Runs:     deps.RunStore,
		Datasets: deps.Datasets,
		Edges:    deps.Edges,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
	}

	// Optional collaborators are assigned only when present so the
	// interfaces stay nil rather than holding typed nil pointers.
	if emb, err := embedding.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, policy, logger); err == nil {
		d.Embedder = emb
	} else {
		logger.Warn("wire: embeddings disabled", slog.String("error", err.Error()))
	}
	if deps.Archiver != nil {
		d.Archiver = deps.Archiver
	}
	if cfg.Amp.Enabled {
		if cfg.Amp.DemoMode {
			logger.Info("wire: amp demo mode; edge observations are not published")
		} else {
			pub, err := amp.NewClient(cfg.Amp.APIURL, cfg.Amp.ProjectID, cfg.Amp.DatasetID, cfg.Amp.APIKey, policy, logger)
			if err != nil {
				return nil, err
			}
			d.Publisher = pub
		}
	}

	return pipeline.NewOrchestrator(d, pipeline.Config{
		Embed:    pipeline.EmbedConfig{BatchSize: cfg.Embedding.BatchSize, Workers: cfg.Embedding.Workers},
		Match:    matcher.Options{Floor: cfg.Matcher.Floor, Candidates: cfg.Matcher.Candidates},
		LockKey:  cfg.Pipeline.LockKey,
		LockTTL:  cfg.Pipeline.LockTTL.Duration,
		Interval: cfg.Pipeline.Interval.Duration,
	}, logger), nil
}

func retryPolicy(r config.RetryConfig) httpx.RetryPolicy {
	p := httpx.DefaultRetryPolicy()
	p.MaxRetries = r.MaxRetries
	if r.BaseDelay.Duration > 0 {
		p.BaseDelay = r.BaseDelay.Duration
	}
	if r.MaxJitter.Duration > 0 {
		p.MaxJitter = r.MaxJitter.Duration
	}
	if r.Timeout.Duration > 0 {
		p.Timeout = r.Timeout.Duration
	}
	return p
}
