package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// MatchStore implements domain.MatchStore using PostgreSQL.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore creates a new MatchStore backed by the given connection pool.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// ReplaceForRun deletes the previous matches of every venue-A record in
// matches and inserts the new set, in one transaction.
func (s *MatchStore) ReplaceForRun(ctx context.Context, runID string, matches []domain.MarketMatch) error {
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	aIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.AID]; !ok {
			seen[m.AID] = struct{}{}
			aIDs = append(aIDs, m.AID)
		}
	}

	const insert = `
		INSERT INTO market_matches (run_id, opportunity_id, polymarket_id, kalshi_id, similarity, best_match, created_at)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7)`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM market_matches WHERE polymarket_id = ANY($1)`, aIDs); err != nil {
			return fmt.Errorf("delete previous: %w", err)
		}
		return sendChunked(ctx, tx, "insert matches", len(matches), func(b *pgx.Batch, i int) {
			m := matches[i]
			b.Queue(insert, runID, m.OpportunityID, m.AID, m.BID, m.Similarity, m.BestMatch, m.CreatedAt)
		})
	})
	if err != nil {
		return fmt.Errorf("postgres: replace matches for run %s: %w", runID, err)
	}
	return nil
}

// ListBest returns the best matches written by runID, ordered by similarity.
func (s *MatchStore) ListBest(ctx context.Context, runID string) ([]domain.MarketMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id::text, opportunity_id::text, polymarket_id, kalshi_id, similarity, best_match, created_at
		FROM market_matches
		WHERE run_id = $1::uuid AND best_match
		ORDER BY similarity DESC, polymarket_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list best matches: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketMatch
	for rows.Next() {
		var m domain.MarketMatch
		if err := rows.Scan(&m.RunID, &m.OpportunityID, &m.AID, &m.BID, &m.Similarity, &m.BestMatch, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list best matches rows: %w", err)
	}
	return out, nil
}
