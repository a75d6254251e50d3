package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/metrics"
)

// Embedder turns semantic texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// EmbedConfig sizes the embedding fan-out.
type EmbedConfig struct {
	BatchSize int
	Workers   int
}

func (c EmbedConfig) withDefaults() EmbedConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// embedRecords fills in the Embedding of recs in place. A failed batch is
// retried record by record and records that still fail are left without a
// vector and counted as skipped. The returned error is non-nil only when the
// embedder is missing or misconfigured, in which case nothing is embedded.
func embedRecords(ctx context.Context, e Embedder, recs []domain.MarketRecord, cfg EmbedConfig, logger *slog.Logger) (embedded, skipped int, err error) {
	if len(recs) == 0 {
		return 0, 0, nil
	}
	if e == nil {
		return 0, len(recs), fmt.Errorf("pipeline: embedding client is not configured: %w", domain.ErrConfiguration)
	}
	cfg = cfg.withDefaults()

	// Records without text cannot be embedded.
	idx := make([]int, 0, len(recs))
	for i := range recs {
		if recs[i].Text == "" {
			skipped++
			continue
		}
		idx = append(idx, i)
	}

	var (
		ok, failed atomic.Int64
		fatal      atomic.Pointer[error]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for start := 0; start < len(idx); start += cfg.BatchSize {
		chunk := idx[start:min(start+cfg.BatchSize, len(idx))]
		g.Go(func() error {
			texts := make([]string, len(chunk))
			for j, i := range chunk {
				texts[j] = recs[i].Text
			}
			vecs, err := e.Embed(gctx, texts)
			if err == nil && len(vecs) != len(chunk) {
				err = fmt.Errorf("got %d vectors for %d inputs: %w", len(vecs), len(chunk), domain.ErrMalformedUpstreamData)
			}
			if err == nil {
				for j, i := range chunk {
					recs[i].Embedding = vecs[j]
				}
				ok.Add(int64(len(chunk)))
				return nil
			}
			if errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrUnauthorized) {
				fatal.CompareAndSwap(nil, &err)
				return err
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}

			logger.WarnContext(gctx, "embedding batch failed, retrying per record",
				slog.Int("size", len(chunk)),
				slog.String("error", err.Error()),
			)
			for _, i := range chunk {
				v, err := e.Embed(gctx, []string{recs[i].Text})
				if err != nil || len(v) != 1 {
					failed.Add(1)
					continue
				}
				recs[i].Embedding = v[0]
				ok.Add(1)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	if p := fatal.Load(); p != nil {
		for i := range recs {
			recs[i].Embedding = nil
		}
		return 0, len(recs), fmt.Errorf("pipeline: embed: %w", *p)
	}
	if waitErr != nil {
		return int(ok.Load()), len(recs) - int(ok.Load()), fmt.Errorf("pipeline: embed: %w", waitErr)
	}
	skipped += int(failed.Load())
	return int(ok.Load()), skipped, nil
}

// recordSkips reports embedding skips for venue.
func recordSkips(venue domain.Venue, n int) {
	if n > 0 {
		metrics.RecordsSkipped.WithLabelValues(string(venue), "embed").Add(float64(n))
	}
}
