package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/edgefinder/internal/blob/s3"
	"github.com/alanyoungcy/edgefinder/internal/server"
	"github.com/alanyoungcy/edgefinder/internal/server/handler"
	"github.com/alanyoungcy/edgefinder/internal/server/ws"
)

// ServerMode serves the HTTP and WebSocket API and runs the pipeline loop in
// the same process, so POST /api/pipeline/trigger has a loop to wake.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      time.Now().UTC(),
	})
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server.api_key is empty; write routes will refuse every request")
	}

	var locate handler.ArchiveLocator
	if deps.BlobReader != nil {
		locate = s3blob.DatasetPath
	}
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Health, a.logger),
		Datasets:      handler.NewDatasetHandler(deps.Datasets, deps.BlobReader, locate, a.logger),
		Entitlements:  handler.NewEntitlementHandler(deps.Datasets, a.logger),
		Opportunities: handler.NewOpportunityHandler(deps.Edges, a.logger),
		Pipeline:      handler.NewPipelineHandler(deps.RunStore, deps.Orchestrator, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	g.Go(func() error {
		return ignoreCanceled(deps.Orchestrator.RunLoop(ctx))
	})

	return g.Wait()
}

// PipelineMode runs the pipeline loop without the API.
func (a *App) PipelineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting pipeline mode",
		slog.Duration("interval", a.cfg.Pipeline.Interval.Duration),
	)
	return ignoreCanceled(deps.Orchestrator.RunLoop(ctx))
}

// OnceMode executes a single pipeline run and returns. A failed run is
// reported as an error so the exit status reflects it.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	run, err := deps.Orchestrator.RunOnce(ctx)
	if run.ID != "" {
		a.logger.InfoContext(ctx, "pipeline run finished",
			slog.String("run_id", run.ID),
			slog.String("status", string(run.Status)),
			slog.Bool("degraded", run.Degraded()),
			slog.Int("matches", run.MatchCount),
			slog.String("dataset_id", run.DatasetID),
		)
	}
	if err != nil {
		return fmt.Errorf("app: pipeline run: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
