package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// EdgeStore implements domain.EdgeStore using PostgreSQL. The table is
// append-only.
type EdgeStore struct {
	pool *pgxpool.Pool
}

// NewEdgeStore creates a new EdgeStore backed by the given connection pool.
func NewEdgeStore(pool *pgxpool.Pool) *EdgeStore {
	return &EdgeStore{pool: pool}
}

// AppendBatch inserts observations in chunks of ChunkSize. Rows already
// present (same id) are left untouched.
func (s *EdgeStore) AppendBatch(ctx context.Context, obs []domain.EdgeObservation) error {
	const insert = `
		INSERT INTO edge_observations (
			id, opportunity_id, pipeline_run_id, polymarket_id, kalshi_id,
			polymarket_yes, polymarket_no, kalshi_yes, kalshi_no,
			edge_percent, strategy, category, title, observed_at
		) VALUES (
			$1::uuid, $2::uuid, NULLIF($3, '')::uuid, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)
		ON CONFLICT (id) DO NOTHING`

	return sendChunked(ctx, s.pool, "append edge observations", len(obs), func(b *pgx.Batch, i int) {
		o := obs[i]
		b.Queue(insert,
			o.ID, o.OpportunityID, o.RunID, o.AID, o.BID,
			o.AYes.Ptr(), o.ANo.Ptr(), o.BYes.Ptr(), o.BNo.Ptr(),
			o.EdgePercent, o.Strategy, o.Category, o.Title, o.ObservedAt,
		)
	})
}

const edgeCols = `id::text, opportunity_id::text, COALESCE(pipeline_run_id::text, ''), polymarket_id, kalshi_id,
	polymarket_yes::float8, polymarket_no::float8, kalshi_yes::float8, kalshi_no::float8,
	edge_percent, strategy, category, title, observed_at`

func scanEdge(row pgx.Row) (domain.EdgeObservation, error) {
	var o domain.EdgeObservation
	var aYes, aNo, bYes, bNo *float64
	err := row.Scan(
		&o.ID, &o.OpportunityID, &o.RunID, &o.AID, &o.BID,
		&aYes, &aNo, &bYes, &bNo,
		&o.EdgePercent, &o.Strategy, &o.Category, &o.Title, &o.ObservedAt,
	)
	if err != nil {
		return domain.EdgeObservation{}, err
	}
	o.AYes, o.ANo = domain.PriceFromPtr(aYes), domain.PriceFromPtr(aNo)
	o.BYes, o.BNo = domain.PriceFromPtr(bYes), domain.PriceFromPtr(bNo)
	return o, nil
}

func (s *EdgeStore) list(ctx context.Context, what, query string, args ...any) ([]domain.EdgeObservation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.EdgeObservation
	for rows.Next() {
		o, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan edge observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", what, err)
	}
	return out, nil
}

// ListWindow returns one opportunity's observations in [since, until], oldest first.
func (s *EdgeStore) ListWindow(ctx context.Context, opportunityID string, since, until time.Time) ([]domain.EdgeObservation, error) {
	if !isUUID(opportunityID) {
		return nil, nil
	}
	return s.list(ctx, "list edge window",
		`SELECT `+edgeCols+` FROM edge_observations
		 WHERE opportunity_id = $1::uuid AND observed_at >= $2 AND observed_at <= $3
		 ORDER BY observed_at, id`,
		opportunityID, since, until)
}

// ListSince returns observations made at or after since, oldest first.
func (s *EdgeStore) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.EdgeObservation, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.list(ctx, "list edges since",
		`SELECT `+edgeCols+` FROM edge_observations WHERE observed_at >= $1 ORDER BY observed_at, id LIMIT $2`,
		since, limit)
}
