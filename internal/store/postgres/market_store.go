package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const upsertMarket = `
	INSERT INTO markets (
		venue, id, title, description, category, group_key, group_title,
		open_time, close_time, active,
		yes_bid, yes_ask, no_bid, no_ask,
		volume, liquidity, url, semantic_text, embedding, fetched_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10,
		$11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, NOW()
	)
	ON CONFLICT (venue, id) DO UPDATE SET
		title         = EXCLUDED.title,
		description   = EXCLUDED.description,
		category      = EXCLUDED.category,
		group_key     = EXCLUDED.group_key,
		group_title   = EXCLUDED.group_title,
		open_time     = EXCLUDED.open_time,
		close_time    = EXCLUDED.close_time,
		active        = EXCLUDED.active,
		yes_bid       = EXCLUDED.yes_bid,
		yes_ask       = EXCLUDED.yes_ask,
		no_bid        = EXCLUDED.no_bid,
		no_ask        = EXCLUDED.no_ask,
		volume        = EXCLUDED.volume,
		liquidity     = EXCLUDED.liquidity,
		url           = EXCLUDED.url,
		semantic_text = EXCLUDED.semantic_text,
		embedding     = EXCLUDED.embedding,
		fetched_at    = EXCLUDED.fetched_at,
		updated_at    = NOW()`

// UpsertBatch writes records in chunks of ChunkSize. A record replaces the
// previous ingestion of the same venue and id.
func (s *MarketStore) UpsertBatch(ctx context.Context, records []domain.MarketRecord) error {
	return sendChunked(ctx, s.pool, "upsert markets", len(records), func(b *pgx.Batch, i int) {
		m := records[i]
		var emb []float32
		if len(m.Embedding) > 0 {
			emb = m.Embedding
		}
		b.Queue(upsertMarket,
			string(m.Venue), m.ID, m.Title, m.Description, m.Category, m.GroupKey, m.GroupTitle,
			m.OpenTime, m.CloseTime, m.Active,
			m.Prices.YesBid.Ptr(), m.Prices.YesAsk.Ptr(), m.Prices.NoBid.Ptr(), m.Prices.NoAsk.Ptr(),
			m.Volume, m.Liquidity, m.URL, m.Text, emb, m.FetchedAt,
		)
	})
}

const marketCols = `venue, id, title, description, category, group_key, group_title,
	open_time, close_time, active,
	yes_bid::float8, yes_ask::float8, no_bid::float8, no_ask::float8,
	volume, liquidity, url, semantic_text, embedding, fetched_at`

func scanMarket(row pgx.Row) (domain.MarketRecord, error) {
	var m domain.MarketRecord
	var venue string
	var yesBid, yesAsk, noBid, noAsk *float64
	err := row.Scan(
		&venue, &m.ID, &m.Title, &m.Description, &m.Category, &m.GroupKey, &m.GroupTitle,
		&m.OpenTime, &m.CloseTime, &m.Active,
		&yesBid, &yesAsk, &noBid, &noAsk,
		&m.Volume, &m.Liquidity, &m.URL, &m.Text, &m.Embedding, &m.FetchedAt,
	)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	m.Venue = domain.Venue(venue)
	m.Prices = domain.PriceQuad{
		YesBid: domain.PriceFromPtr(yesBid),
		YesAsk: domain.PriceFromPtr(yesAsk),
		NoBid:  domain.PriceFromPtr(noBid),
		NoAsk:  domain.PriceFromPtr(noAsk),
	}
	return m, nil
}

// Get retrieves one record by venue and id.
func (s *MarketStore) Get(ctx context.Context, venue domain.Venue, id string) (domain.MarketRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE venue = $1 AND id = $2`, string(venue), id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketRecord{}, fmt.Errorf("postgres: market %s:%s: %w", venue, id, domain.ErrNotFound)
		}
		return domain.MarketRecord{}, fmt.Errorf("postgres: get market %s:%s: %w", venue, id, err)
	}
	return m, nil
}

// ListActive returns active records of one venue, most recently fetched first.
// Since/Until filter on fetched_at.
func (s *MarketStore) ListActive(ctx context.Context, venue domain.Venue, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	query, args := withRange(
		`SELECT `+marketCols+` FROM markets WHERE venue = $1 AND active`,
		[]any{string(venue)}, "fetched_at", "fetched_at DESC, id", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketRecord
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return out, nil
}

// Count returns the number of stored records for a venue.
func (s *MarketStore) Count(ctx context.Context, venue domain.Venue) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets WHERE venue = $1`, string(venue)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}
