// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" storage driver and the service and pipeline tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// Store holds every table behind one lock.
type Store struct {
	mu           sync.RWMutex
	markets      map[string]domain.MarketRecord
	matches      map[string][]domain.MarketMatch // keyed by venue-A id
	datasets     []domain.SharedDataset          // insertion order
	entitlements []domain.Entitlement
	edges        []domain.EdgeObservation
	edgeIDs      map[string]struct{}
	runs         map[string]domain.PipelineRun
	audit        []domain.AuditEntry
	edgeErr      error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		markets: make(map[string]domain.MarketRecord),
		matches: make(map[string][]domain.MarketMatch),
		edgeIDs: make(map[string]struct{}),
		runs:    make(map[string]domain.PipelineRun),
	}
}

// FailEdgeAppends makes every later Edges().AppendBatch return err; nil
// restores normal behaviour.
func (s *Store) FailEdgeAppends(err error) {
	s.mu.Lock()
	s.edgeErr = err
	s.mu.Unlock()
}

func (s *Store) Markets() *MarketStore           { return &MarketStore{s} }
func (s *Store) Matches() *MatchStore            { return &MatchStore{s} }
func (s *Store) Datasets() *DatasetStore         { return &DatasetStore{s} }
func (s *Store) Entitlements() *EntitlementStore { return &EntitlementStore{s} }
func (s *Store) Edges() *EdgeStore               { return &EdgeStore{s} }
func (s *Store) Runs() *RunStore                 { return &RunStore{s} }
func (s *Store) Audit() *AuditStore              { return &AuditStore{s} }

// MarketStore implements domain.MarketStore.
type MarketStore struct{ s *Store }

func (m *MarketStore) UpsertBatch(_ context.Context, records []domain.MarketRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, r := range records {
		r.Embedding = slices.Clone(r.Embedding)
		m.s.markets[r.Key()] = r
	}
	return nil
}

func (m *MarketStore) Get(_ context.Context, venue domain.Venue, id string) (domain.MarketRecord, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	r, ok := m.s.markets[string(venue)+":"+id]
	if !ok {
		return domain.MarketRecord{}, fmt.Errorf("memory: market %s:%s: %w", venue, id, domain.ErrNotFound)
	}
	return r, nil
}

func (m *MarketStore) ListActive(_ context.Context, venue domain.Venue, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	m.s.mu.RLock()
	var out []domain.MarketRecord
	for _, r := range m.s.markets {
		if r.Venue != venue || !r.Active || !inRange(r.FetchedAt, opts) {
			continue
		}
		out = append(out, r)
	}
	m.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FetchedAt.Equal(out[j].FetchedAt) {
			return out[i].FetchedAt.After(out[j].FetchedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts), nil
}

func (m *MarketStore) Count(_ context.Context, venue domain.Venue) (int64, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var n int64
	for _, r := range m.s.markets {
		if r.Venue == venue {
			n++
		}
	}
	return n, nil
}

// MatchStore implements domain.MatchStore.
type MatchStore struct{ s *Store }

func (m *MatchStore) ReplaceForRun(_ context.Context, _ string, matches []domain.MarketMatch) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	fresh := make(map[string][]domain.MarketMatch)
	for _, mm := range matches {
		fresh[mm.AID] = append(fresh[mm.AID], mm)
	}
	for aID, ms := range fresh {
		m.s.matches[aID] = ms
	}
	return nil
}

func (m *MatchStore) ListBest(_ context.Context, runID string) ([]domain.MarketMatch, error) {
	m.s.mu.RLock()
	var out []domain.MarketMatch
	for _, ms := range m.s.matches {
		for _, mm := range ms {
			if mm.RunID == runID && mm.BestMatch {
				out = append(out, mm)
			}
		}
	}
	m.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].AID < out[j].AID
	})
	return out, nil
}

// DatasetStore implements domain.DatasetStore.
type DatasetStore struct{ s *Store }

func (d *DatasetStore) Insert(_ context.Context, ds domain.SharedDataset) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, existing := range d.s.datasets {
		if existing.ID == ds.ID {
			return fmt.Errorf("memory: dataset %s: %w", ds.ID, domain.ErrAlreadyExists)
		}
	}
	ds.Items = slices.Clone(ds.Items)
	if ds.Items == nil {
		ds.Items = []domain.MatchedEvent{}
	}
	d.s.datasets = append(d.s.datasets, ds)
	return nil
}

func (d *DatasetStore) Get(_ context.Context, id string) (domain.SharedDataset, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	for _, ds := range d.s.datasets {
		if ds.ID == id {
			return ds, nil
		}
	}
	return domain.SharedDataset{}, fmt.Errorf("memory: dataset %s: %w", id, domain.ErrNotFound)
}

// newest returns the most recently created dataset accepted by keep.
func (d *DatasetStore) newest(keep func(domain.SharedDataset) bool) (domain.SharedDataset, bool) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	var best domain.SharedDataset
	found := false
	for _, ds := range d.s.datasets {
		if !keep(ds) {
			continue
		}
		if !found || !ds.CreatedAt.Before(best.CreatedAt) {
			best, found = ds, true
		}
	}
	return best, found
}

func (d *DatasetStore) LatestActive(_ context.Context, now time.Time) (domain.SharedDataset, error) {
	ds, ok := d.newest(func(ds domain.SharedDataset) bool { return ds.ActiveAt(now) })
	if !ok {
		return domain.SharedDataset{}, fmt.Errorf("memory: latest active dataset: %w", domain.ErrNotFound)
	}
	return ds, nil
}

func (d *DatasetStore) Latest(_ context.Context) (domain.SharedDataset, error) {
	ds, ok := d.newest(func(domain.SharedDataset) bool { return true })
	if !ok {
		return domain.SharedDataset{}, fmt.Errorf("memory: latest dataset: %w", domain.ErrNotFound)
	}
	return ds, nil
}

func (d *DatasetStore) ListHeaders(_ context.Context, opts domain.ListOpts) ([]domain.DatasetHeader, error) {
	d.s.mu.RLock()
	var out []domain.DatasetHeader
	for _, ds := range d.s.datasets {
		if inRange(ds.CreatedAt, opts) {
			out = append(out, ds.Header())
		}
	}
	d.s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

// EntitlementStore implements domain.EntitlementStore.
type EntitlementStore struct{ s *Store }

func (e *EntitlementStore) Insert(_ context.Context, ent domain.Entitlement) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.entitlements = append(e.s.entitlements, ent)
	return nil
}

func (e *EntitlementStore) LatestForWallet(_ context.Context, wallet string) (domain.Entitlement, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	var best domain.Entitlement
	found := false
	for _, ent := range e.s.entitlements {
		if !strings.EqualFold(ent.Wallet, wallet) {
			continue
		}
		if !found || !ent.GrantedAt.Before(best.GrantedAt) {
			best, found = ent, true
		}
	}
	if !found {
		return domain.Entitlement{}, fmt.Errorf("memory: entitlement for %s: %w", wallet, domain.ErrNotFound)
	}
	return best, nil
}

// EdgeStore implements domain.EdgeStore.
type EdgeStore struct{ s *Store }

func (e *EdgeStore) AppendBatch(_ context.Context, obs []domain.EdgeObservation) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if e.s.edgeErr != nil {
		return e.s.edgeErr
	}
	for _, o := range obs {
		if _, dup := e.s.edgeIDs[o.ID]; dup {
			continue
		}
		e.s.edgeIDs[o.ID] = struct{}{}
		e.s.edges = append(e.s.edges, o)
	}
	return nil
}

func (e *EdgeStore) ListWindow(_ context.Context, opportunityID string, since, until time.Time) ([]domain.EdgeObservation, error) {
	return e.filter(0, func(o domain.EdgeObservation) bool {
		return o.OpportunityID == opportunityID && !o.ObservedAt.Before(since) && !o.ObservedAt.After(until)
	}), nil
}

func (e *EdgeStore) ListSince(_ context.Context, since time.Time, limit int) ([]domain.EdgeObservation, error) {
	return e.filter(limit, func(o domain.EdgeObservation) bool { return !o.ObservedAt.Before(since) }), nil
}

func (e *EdgeStore) filter(limit int, keep func(domain.EdgeObservation) bool) []domain.EdgeObservation {
	e.s.mu.RLock()
	var out []domain.EdgeObservation
	for _, o := range e.s.edges {
		if keep(o) {
			out = append(out, o)
		}
	}
	e.s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RunStore implements domain.RunStore.
type RunStore struct{ s *Store }

func (r *RunStore) Create(_ context.Context, run domain.PipelineRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.runs[run.ID]; ok {
		return fmt.Errorf("memory: run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	r.s.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *RunStore) Update(_ context.Context, run domain.PipelineRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.runs[run.ID]; !ok {
		return fmt.Errorf("memory: run %s: %w", run.ID, domain.ErrNotFound)
	}
	r.s.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *RunStore) Get(_ context.Context, id string) (domain.PipelineRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	run, ok := r.s.runs[id]
	if !ok {
		return domain.PipelineRun{}, fmt.Errorf("memory: run %s: %w", id, domain.ErrNotFound)
	}
	return cloneRun(run), nil
}

func (r *RunStore) ListRecent(_ context.Context, limit int) ([]domain.PipelineRun, error) {
	r.s.mu.RLock()
	out := make([]domain.PipelineRun, 0, len(r.s.runs))
	for _, run := range r.s.runs {
		out = append(out, cloneRun(run))
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(run domain.PipelineRun) domain.PipelineRun {
	run.Stages = slices.Clone(run.Stages)
	return run
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.audit = append(a.s.audit, domain.AuditEntry{
		ID:        int64(len(a.s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.s.mu.RLock()
	var out []domain.AuditEntry
	for i := len(a.s.audit) - 1; i >= 0; i-- {
		if inRange(a.s.audit[i].CreatedAt, opts) {
			out = append(out, a.s.audit[i])
		}
	}
	a.s.mu.RUnlock()
	return page(out, opts), nil
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
