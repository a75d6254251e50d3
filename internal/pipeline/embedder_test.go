package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// flakyEmbedder fails any batch containing a poisoned text, and fails
// single-text calls for that text too.
type flakyEmbedder struct {
	poison string
	calls  atomic.Int32
}

func (f *flakyEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.calls.Add(1)
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if in == f.poison {
			return nil, fmt.Errorf("embedding: %w", domain.ErrUpstreamUnavailable)
		}
		out[i] = []float32{float32(len(in)), 1}
	}
	return out, nil
}

func records(texts ...string) []domain.MarketRecord {
	recs := make([]domain.MarketRecord, len(texts))
	for i, t := range texts {
		recs[i] = domain.MarketRecord{ID: fmt.Sprintf("r%d", i), Text: t}
	}
	return recs
}

func TestEmbedRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("batches", func(t *testing.T) {
		e := &flakyEmbedder{}
		recs := records("a", "bb", "ccc", "dddd", "eeeee")
		n, skipped, err := embedRecords(ctx, e, recs, EmbedConfig{BatchSize: 2, Workers: 2}, discard)
		if err != nil || n != 5 || skipped != 0 {
			t.Fatalf("embedRecords = (%d, %d, %v), want (5, 0, nil)", n, skipped, err)
		}
		if got := e.calls.Load(); got != 3 {
			t.Errorf("calls = %d, want 3 batches", got)
		}
		for _, r := range recs {
			if len(r.Embedding) != 2 || int(r.Embedding[0]) != len(r.Text) {
				t.Errorf("%s: embedding %v not aligned with text %q", r.ID, r.Embedding, r.Text)
			}
		}
	})

	t.Run("failed batch retried per record", func(t *testing.T) {
		e := &flakyEmbedder{poison: "bad"}
		recs := records("one", "bad", "three", "")
		n, skipped, err := embedRecords(ctx, e, recs, EmbedConfig{BatchSize: 10}, discard)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if n != 2 || skipped != 2 {
			t.Errorf("embedded/skipped = %d/%d, want 2/2", n, skipped)
		}
		if recs[1].Embedding != nil || recs[3].Embedding != nil {
			t.Error("failed and empty records must stay without a vector")
		}
		if recs[0].Embedding == nil || recs[2].Embedding == nil {
			t.Error("healthy records lost their vectors")
		}
	})

	t.Run("misconfigured embedder is fatal", func(t *testing.T) {
		e := keywordEmbedder{err: fmt.Errorf("embedding: %w", domain.ErrUnauthorized)}
		recs := records("senate", "governor")
		n, skipped, err := embedRecords(ctx, e, recs, EmbedConfig{}, discard)
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
		if n != 0 || skipped != 2 {
			t.Errorf("embedded/skipped = %d/%d, want 0/2", n, skipped)
		}
	})

	t.Run("nil embedder", func(t *testing.T) {
		_, skipped, err := embedRecords(ctx, nil, records("x"), EmbedConfig{}, discard)
		if domain.KindOf(err) != domain.KindConfiguration || skipped != 1 {
			t.Errorf("(%d, %v), want configuration error with 1 skip", skipped, err)
		}
	})

	t.Run("short response", func(t *testing.T) {
		short := embedFunc(func(_ context.Context, in []string) ([][]float32, error) {
			if len(in) > 1 {
				return [][]float32{{1}}, nil
			}
			if strings.HasPrefix(in[0], "ok") {
				return [][]float32{{1}}, nil
			}
			return nil, errors.New("boom")
		})
		recs := records("ok-1", "nope")
		n, skipped, err := embedRecords(ctx, short, recs, EmbedConfig{}, discard)
		if err != nil || n != 1 || skipped != 1 {
			t.Errorf("embedRecords = (%d, %d, %v), want (1, 1, nil)", n, skipped, err)
		}
	})
}

type embedFunc func(context.Context, []string) ([][]float32, error)

func (f embedFunc) Embed(ctx context.Context, in []string) ([][]float32, error) { return f(ctx, in) }
