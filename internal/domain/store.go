package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists normalized market records. Upserts replace the previous
// ingestion of the same venue/id.
type MarketStore interface {
	UpsertBatch(ctx context.Context, records []MarketRecord) error
	Get(ctx context.Context, venue Venue, id string) (MarketRecord, error)
	ListActive(ctx context.Context, venue Venue, opts ListOpts) ([]MarketRecord, error)
	Count(ctx context.Context, venue Venue) (int64, error)
}

// MatchStore persists the match set of each run.
type MatchStore interface {
	// ReplaceForRun writes the matches of runID, superseding any matches
	// previously written for the same venue-A records.
	ReplaceForRun(ctx context.Context, runID string, matches []MarketMatch) error
	ListBest(ctx context.Context, runID string) ([]MarketMatch, error)
}

// DatasetStore is insert-and-query only; datasets are never updated or deleted.
type DatasetStore interface {
	Insert(ctx context.Context, ds SharedDataset) error
	Get(ctx context.Context, id string) (SharedDataset, error)
	// LatestActive returns the newest dataset with expires_at after now.
	LatestActive(ctx context.Context, now time.Time) (SharedDataset, error)
	// Latest returns the newest dataset regardless of expiry.
	Latest(ctx context.Context) (SharedDataset, error)
	ListHeaders(ctx context.Context, opts ListOpts) ([]DatasetHeader, error)
}

// EntitlementStore persists dataset access grants.
type EntitlementStore interface {
	Insert(ctx context.Context, e Entitlement) error
	LatestForWallet(ctx context.Context, wallet string) (Entitlement, error)
}

// EdgeStore is the append-only edge observation log.
type EdgeStore interface {
	AppendBatch(ctx context.Context, obs []EdgeObservation) error
	// ListWindow returns observations of one opportunity observed in
	// [since, until], oldest first.
	ListWindow(ctx context.Context, opportunityID string, since, until time.Time) ([]EdgeObservation, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]EdgeObservation, error)
}

// RunStore persists pipeline run records.
type RunStore interface {
	Create(ctx context.Context, run PipelineRun) error
	Update(ctx context.Context, run PipelineRun) error
	Get(ctx context.Context, id string) (PipelineRun, error)
	ListRecent(ctx context.Context, limit int) ([]PipelineRun, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
