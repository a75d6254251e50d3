// Package pipeline runs the fetch, match, snapshot and score stages that turn
// two venues' listings into a shared dataset and an edge history.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/matcher"
	"github.com/alanyoungcy/edgefinder/internal/metrics"
	"github.com/alanyoungcy/edgefinder/internal/service"
)

// DefaultLockKey names the lock that keeps runs from overlapping.
const DefaultLockKey = "lock:pipeline:run"

// Publisher pushes edge observations to an external analytics sink.
type Publisher interface {
	Publish(ctx context.Context, obs []domain.EdgeObservation) error
}

// RunNotifier alerts on finished runs.
type RunNotifier interface {
	NotifyRun(ctx context.Context, run domain.PipelineRun) error
}

// Config tunes the orchestrator.
type Config struct {
	Embed    EmbedConfig
	Match    matcher.Options
	LockKey  string
	LockTTL  time.Duration // longer than the slowest expected run
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockKey == "" {
		c.LockKey = DefaultLockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	return c
}

// Deps are the collaborators of a run. Archiver, Publisher, Bus and Notifier
// are optional.
type Deps struct {
	Polymarket Source
	Kalshi     Source
	Scraper    *MarketScraper
	Embedder   Embedder
	Markets    domain.MarketStore
	Matches    domain.MatchStore
	Runs       domain.RunStore
	Datasets   *service.DatasetService
	Edges      *service.EdgeService
	Locks      domain.LockManager
	Archiver   domain.Archiver
	Publisher  Publisher
	Bus        domain.SignalBus
	Notifier   RunNotifier
}

// Orchestrator executes pipeline runs, one at a time across every process
// sharing the lock manager.
type Orchestrator struct {
	d       Deps
	cfg     Config
	now     func() time.Time
	trigger chan struct{}
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(d Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if d.Scraper == nil {
		d.Scraper = NewMarketScraper(nil, logger)
	}
	return &Orchestrator{
		d:       d,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		logger:  logger,
	}
}

// WithClock replaces the clock used for run timestamps and match eligibility.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	o.d.Scraper.now = now
	return o
}

// Trigger asks RunLoop for an extra run. It returns false when a trigger is
// already pending.
func (o *Orchestrator) Trigger() bool {
	select {
	case o.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunLoop runs immediately, then on every interval tick and every Trigger,
// until ctx ends.
func (o *Orchestrator) RunLoop(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline loop starting", slog.Duration("interval", o.cfg.Interval))
	o.runLogged(ctx)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("pipeline loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.runLogged(ctx)
		case <-o.trigger:
			o.runLogged(ctx)
		}
	}
}

func (o *Orchestrator) runLogged(ctx context.Context) {
	_, err := o.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		o.logger.InfoContext(ctx, "pipeline run skipped", slog.String("reason", err.Error()))
	case ctx.Err() != nil:
	default:
		o.logger.ErrorContext(ctx, "pipeline run failed", slog.String("error", err.Error()))
	}
}

// runState carries one run through its stages.
type runState struct {
	run    domain.PipelineRun
	cause  error
	logger *slog.Logger

	pm, ks  venueResult
	best    []domain.MarketMatch
	events  []domain.MatchedEvent
	dataset domain.SharedDataset
}

// RunOnce executes one full run. Another run in flight yields an error
// wrapping domain.ErrConflict and no run record. Otherwise the finished run
// record is returned; a failed run also returns an error wrapping the first
// stage failure.
func (o *Orchestrator) RunOnce(ctx context.Context) (domain.PipelineRun, error) {
	lock, err := o.d.Locks.Acquire(ctx, o.cfg.LockKey, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			metrics.RunConflicts.Inc()
			return domain.PipelineRun{}, fmt.Errorf("pipeline: another run is in flight: %w", domain.ErrConflict)
		}
		return domain.PipelineRun{}, fmt.Errorf("pipeline: acquire run lock: %w", err)
	}
	defer lock.Release()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopRenew := o.keepLock(ctx, lock, cancel)
	defer stopRenew()

	st := &runState{
		run: domain.PipelineRun{
			ID:        uuid.NewString(),
			Status:    domain.RunPending,
			StartedAt: o.now().UTC(),
			Stages:    []domain.StageReport{},
		},
	}
	st.logger = o.logger.With(slog.String("run_id", st.run.ID))
	if err := o.d.Runs.Create(ctx, st.run); err != nil {
		return st.run, fmt.Errorf("pipeline: create run record: %w", err)
	}
	st.logger.InfoContext(ctx, "pipeline run started")
	o.publish(ctx, domain.ChannelRuns, "run.started", st.run)

	steps := []struct {
		status domain.RunStatus
		stage  domain.Stage
		fn     func(context.Context, *runState, *stageRun)
	}{
		{domain.RunFetching, domain.StageFetch, o.fetchStage},
		{domain.RunMatching, domain.StageMatch, o.matchStage},
		{domain.RunSnapshotting, domain.StageSnapshot, o.snapshotStage},
		{domain.RunScoring, domain.StageScore, o.scoreStage},
	}
	for i, step := range steps {
		status := o.runStage(ctx, st, step.status, step.stage, step.fn)
		if lost := context.Cause(ctx); errors.Is(lost, errLockLost) {
			st.cause = lost
			status = domain.StageFailed
		}
		if status == domain.StageFailed {
			for _, rest := range steps[i+1:] {
				o.skipStage(st, rest.stage)
			}
			return o.finish(ctx, st, domain.RunFailed)
		}
	}
	return o.finish(ctx, st, domain.RunCompleted)
}

var errLockLost = fmt.Errorf("run lock lost: %w", domain.ErrConflict)

// keepLock refreshes lock every third of its ttl until the returned stop func
// is called. When a refresh fails the run is cancelled with errLockLost.
func (o *Orchestrator) keepLock(ctx context.Context, lock domain.Lock, cancel context.CancelCauseFunc) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(max(o.cfg.LockTTL/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(ctx, o.cfg.LockTTL); err != nil {
					if ctx.Err() != nil {
						return
					}
					o.logger.ErrorContext(ctx, "pipeline run lock lost", slog.String("error", err.Error()))
					cancel(fmt.Errorf("pipeline: %w: %v", errLockLost, err))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// stageRun accumulates the outcome of one stage.
type stageRun struct {
	domain.StageReport
	errs []error
}

func (s *stageRun) count(key string, n int) { s.Counts[key] = n }

// degrade records err without failing the stage.
func (s *stageRun) degrade(err error) {
	s.add(err)
	if s.Status == domain.StageSuccess {
		s.Status = domain.StageDegraded
	}
}

// fail records err and fails the stage.
func (s *stageRun) fail(err error) {
	s.add(err)
	s.Status = domain.StageFailed
}

func (s *stageRun) add(err error) {
	s.errs = append(s.errs, err)
	s.Errors = append(s.Errors, domain.StageError{Kind: domain.KindOf(err), Message: err.Error()})
}

func (o *Orchestrator) runStage(ctx context.Context, st *runState, status domain.RunStatus, stage domain.Stage, fn func(context.Context, *runState, *stageRun)) domain.StageStatus {
	st.run.Status = status
	o.save(ctx, st)

	sr := &stageRun{StageReport: domain.StageReport{
		Stage:     stage,
		Status:    domain.StageSuccess,
		StartedAt: o.now().UTC(),
		Counts:    map[string]int{},
	}}
	fn(ctx, st, sr)
	sr.FinishedAt = o.now().UTC()
	if sr.Status == domain.StageFailed && st.cause == nil && len(sr.errs) > 0 {
		st.cause = sr.errs[0]
	}
	st.run.Stages = append(st.run.Stages, sr.StageReport)

	metrics.ObserveStage(string(stage), string(sr.Status), sr.FinishedAt.Sub(sr.StartedAt))
	attrs := []any{
		slog.String("stage", string(stage)),
		slog.String("status", string(sr.Status)),
		slog.Duration("duration", sr.FinishedAt.Sub(sr.StartedAt)),
	}
	for k, v := range sr.Counts {
		attrs = append(attrs, slog.Int(k, v))
	}
	if sr.Status == domain.StageSuccess {
		st.logger.InfoContext(ctx, "stage finished", attrs...)
	} else {
		for _, e := range sr.Errors {
			attrs = append(attrs, slog.String("error", e.Message))
		}
		st.logger.WarnContext(ctx, "stage finished with errors", attrs...)
	}
	return sr.Status
}

func (o *Orchestrator) skipStage(st *runState, stage domain.Stage) {
	now := o.now().UTC()
	st.run.Stages = append(st.run.Stages, domain.StageReport{
		Stage:      stage,
		Status:     domain.StageSkipped,
		StartedAt:  now,
		FinishedAt: now,
	})
}

func (o *Orchestrator) finish(ctx context.Context, st *runState, status domain.RunStatus) (domain.PipelineRun, error) {
	completed := o.now().UTC()
	st.run.Status = status
	st.run.CompletedAt = &completed

	var msgs []string
	for _, rep := range st.run.Stages {
		for _, e := range rep.Errors {
			msgs = append(msgs, e.Message)
		}
	}
	if errors.Is(st.cause, errLockLost) {
		msgs = append(msgs, st.cause.Error())
	}
	st.run.ErrorMessage = strings.Join(msgs, "; ")

	// The run record must reach its terminal state even if ctx was cancelled
	// mid-run.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	o.save(saveCtx, st)

	metrics.ObserveRun(string(status), st.run.Degraded())
	st.logger.InfoContext(ctx, "pipeline run finished",
		slog.String("status", string(status)),
		slog.Bool("degraded", st.run.Degraded()),
		slog.Int("matches", st.run.MatchCount),
		slog.String("dataset_id", st.run.DatasetID),
		slog.Duration("duration", completed.Sub(st.run.StartedAt)),
	)

	o.publish(saveCtx, domain.ChannelRuns, "run."+string(status), st.run)
	if o.d.Bus != nil {
		if payload, err := json.Marshal(st.run); err == nil {
			if err := o.d.Bus.StreamAppend(saveCtx, domain.StreamRuns, payload); err != nil {
				st.logger.WarnContext(ctx, "run stream append failed", slog.String("error", err.Error()))
			}
		}
	}
	if o.d.Notifier != nil {
		if err := o.d.Notifier.NotifyRun(saveCtx, st.run); err != nil {
			st.logger.WarnContext(ctx, "run notification failed", slog.String("error", err.Error()))
		}
	}

	if status == domain.RunFailed {
		cause := st.cause
		if cause == nil {
			cause = errors.New("unknown failure")
		}
		return st.run, fmt.Errorf("pipeline: run %s failed: %w", st.run.ID, cause)
	}
	return st.run, nil
}

func (o *Orchestrator) save(ctx context.Context, st *runState) {
	if err := o.d.Runs.Update(ctx, st.run); err != nil {
		st.logger.WarnContext(ctx, "run record update failed",
			slog.String("status", string(st.run.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, channel, typ string, data any) {
	if o.d.Bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Event{Type: typ, At: o.now().UTC(), Data: data})
	if err != nil {
		return
	}
	if err := o.d.Bus.Publish(ctx, channel, payload); err != nil {
		o.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
}

// venueResult is one venue's share of the fetch stage.
type venueResult struct {
	batch     VenueBatch
	err       error // listing fetch failed
	embedErr  error
	upsertErr error
	embedded  int
	embedSkip int
}

func (o *Orchestrator) fetchVenue(ctx context.Context, venue domain.Venue, src Source) venueResult {
	r := venueResult{batch: VenueBatch{Venue: venue}}
	if src == nil {
		r.err = fmt.Errorf("pipeline: %s source is not configured: %w", venue, domain.ErrConfiguration)
		return r
	}
	r.batch, r.err = o.d.Scraper.Scrape(ctx, src)
	if r.err != nil {
		return r
	}

	r.embedded, r.embedSkip, r.embedErr = embedRecords(ctx, o.d.Embedder, r.batch.Records, o.cfg.Embed, o.logger)
	recordSkips(venue, r.embedSkip)

	if err := o.d.Markets.UpsertBatch(ctx, r.batch.Records); err != nil {
		r.upsertErr = fmt.Errorf("pipeline: store %s markets: %w", venue, err)
	}
	return r
}

// fetchStage fetches, normalizes and embeds both venues concurrently. One
// venue failing degrades the stage; both failing fails it.
func (o *Orchestrator) fetchStage(ctx context.Context, st *runState, sr *stageRun) {
	var g errgroup.Group
	g.Go(func() error {
		st.pm = o.fetchVenue(ctx, domain.VenuePolymarket, o.d.Polymarket)
		return nil
	})
	g.Go(func() error {
		st.ks = o.fetchVenue(ctx, domain.VenueKalshi, o.d.Kalshi)
		return nil
	})
	_ = g.Wait()

	for _, r := range []*venueResult{&st.pm, &st.ks} {
		v := string(r.batch.Venue)
		sr.count(v+"_fetched", r.batch.Fetched)
		sr.count(v+"_records", len(r.batch.Records))
		sr.count(v+"_skipped", r.batch.Skipped)
		sr.count(v+"_embedded", r.embedded)
		sr.count(v+"_embed_skipped", r.embedSkip)
	}

	if st.pm.err != nil && st.ks.err != nil {
		sr.fail(st.pm.err)
		sr.fail(st.ks.err)
		return
	}
	for _, r := range []*venueResult{&st.pm, &st.ks} {
		for _, err := range []error{r.err, r.embedErr, r.upsertErr} {
			if err != nil {
				sr.degrade(err)
			}
		}
	}
}

// matchStage pairs the venues and persists the match set.
func (o *Orchestrator) matchStage(ctx context.Context, st *runState, sr *stageRun) {
	opts := o.cfg.Match
	opts.Now = o.now()
	matches := matcher.Match(st.run.ID, st.pm.batch.Records, st.ks.batch.Records, opts)
	st.best = matcher.Best(matches)

	sr.count("candidates", len(matches))
	sr.count("best", len(st.best))

	if err := o.d.Matches.ReplaceForRun(ctx, st.run.ID, matches); err != nil {
		sr.fail(fmt.Errorf("pipeline: store matches: %w", err))
		return
	}
	st.run.MatchCount = len(st.best)
	metrics.MatchesFound.Set(float64(len(st.best)))
}

// snapshotStage builds the matched events and commits them as the new shared
// dataset. This is the only step that changes what readers see.
func (o *Orchestrator) snapshotStage(ctx context.Context, st *runState, sr *stageRun) {
	st.events = BuildEvents(st.best, st.pm.batch.Records, st.ks.batch.Records)
	arbs := countArbitrage(st.events)
	sr.count("items", len(st.events))
	sr.count("arbitrage", arbs)

	ds, err := o.d.Datasets.CreateSnapshot(ctx, st.run.ID, st.events)
	if err != nil {
		sr.fail(fmt.Errorf("pipeline: create snapshot: %w", err))
		return
	}
	st.dataset = ds
	st.run.DatasetID = ds.ID
	metrics.ArbitrageOpportunities.Set(float64(arbs))
	o.publish(ctx, domain.ChannelDatasets, "dataset.created", ds.Header())
}

// scoreStage appends edge observations, archives the run output and
// publishes edges. It never fails the run: the snapshot is already committed.
func (o *Orchestrator) scoreStage(ctx context.Context, st *runState, sr *stageRun) {
	obs, err := o.d.Edges.RecordRun(ctx, st.run.ID, st.events, o.now().UTC())
	if err != nil {
		sr.degrade(fmt.Errorf("pipeline: record edges: %w", err))
	}
	sr.count("observations", len(obs))
	metrics.EdgeObservations.Add(float64(len(obs)))

	if o.d.Archiver != nil {
		if _, err := o.d.Archiver.ArchiveDataset(ctx, st.dataset); err != nil {
			sr.degrade(fmt.Errorf("pipeline: archive dataset: %w", err))
		}
		if _, err := o.d.Archiver.ArchiveObservations(ctx, st.run.ID, obs); err != nil {
			sr.degrade(fmt.Errorf("pipeline: archive observations: %w", err))
		}
	}

	if o.d.Publisher != nil && len(obs) > 0 {
		if err := o.d.Publisher.Publish(ctx, obs); err != nil {
			sr.degrade(fmt.Errorf("pipeline: publish edges: %w", err))
		} else {
			sr.count("published", len(obs))
		}
	}
}
