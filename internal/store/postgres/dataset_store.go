package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// DatasetStore implements domain.DatasetStore using PostgreSQL. Rows are
// inserted once and never updated.
type DatasetStore struct {
	pool *pgxpool.Pool
}

// NewDatasetStore creates a new DatasetStore backed by the given connection pool.
func NewDatasetStore(pool *pgxpool.Pool) *DatasetStore {
	return &DatasetStore{pool: pool}
}

// Insert stores ds. A duplicate id returns domain.ErrAlreadyExists.
func (s *DatasetStore) Insert(ctx context.Context, ds domain.SharedDataset) error {
	items := ds.Items
	if items == nil {
		items = []domain.MatchedEvent{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("postgres: marshal dataset items: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO shared_datasets (id, pipeline_run_id, items, items_count, created_at, expires_at)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		ds.ID, ds.RunID, itemsJSON, len(items), ds.CreatedAt, ds.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert dataset %s: %w", ds.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert dataset %s: %w", ds.ID, domain.ErrAlreadyExists)
	}
	return nil
}

const datasetCols = `id::text, pipeline_run_id::text, items, created_at, expires_at`

func scanDataset(row pgx.Row) (domain.SharedDataset, error) {
	var ds domain.SharedDataset
	var itemsJSON []byte
	if err := row.Scan(&ds.ID, &ds.RunID, &itemsJSON, &ds.CreatedAt, &ds.ExpiresAt); err != nil {
		return domain.SharedDataset{}, err
	}
	if err := json.Unmarshal(itemsJSON, &ds.Items); err != nil {
		return domain.SharedDataset{}, fmt.Errorf("unmarshal items: %w", err)
	}
	if ds.Items == nil {
		ds.Items = []domain.MatchedEvent{}
	}
	return ds, nil
}

func (s *DatasetStore) queryOne(ctx context.Context, what, query string, args ...any) (domain.SharedDataset, error) {
	ds, err := scanDataset(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SharedDataset{}, fmt.Errorf("postgres: %s: %w", what, domain.ErrNotFound)
		}
		return domain.SharedDataset{}, fmt.Errorf("postgres: %s: %w", what, err)
	}
	return ds, nil
}

// Get retrieves a dataset by id.
func (s *DatasetStore) Get(ctx context.Context, id string) (domain.SharedDataset, error) {
	if !isUUID(id) {
		return domain.SharedDataset{}, fmt.Errorf("postgres: dataset %q: %w", id, domain.ErrNotFound)
	}
	return s.queryOne(ctx, "get dataset "+id,
		`SELECT `+datasetCols+` FROM shared_datasets WHERE id = $1::uuid`, id)
}

// LatestActive returns the newest dataset that has not expired at now.
func (s *DatasetStore) LatestActive(ctx context.Context, now time.Time) (domain.SharedDataset, error) {
	return s.queryOne(ctx, "latest active dataset",
		`SELECT `+datasetCols+` FROM shared_datasets WHERE expires_at > $1 ORDER BY created_at DESC LIMIT 1`, now)
}

// Latest returns the newest dataset regardless of expiry.
func (s *DatasetStore) Latest(ctx context.Context) (domain.SharedDataset, error) {
	return s.queryOne(ctx, "latest dataset",
		`SELECT `+datasetCols+` FROM shared_datasets ORDER BY created_at DESC LIMIT 1`)
}

// ListHeaders returns dataset headers, newest first.
func (s *DatasetStore) ListHeaders(ctx context.Context, opts domain.ListOpts) ([]domain.DatasetHeader, error) {
	query, args := withRange(
		`SELECT id::text, pipeline_run_id::text, items_count, created_at, expires_at FROM shared_datasets WHERE TRUE`,
		nil, "created_at", "created_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list datasets: %w", err)
	}
	defer rows.Close()

	var out []domain.DatasetHeader
	for rows.Next() {
		var h domain.DatasetHeader
		if err := rows.Scan(&h.ID, &h.RunID, &h.ItemCount, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, fmt.Errorf("postgres: scan dataset header: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list datasets rows: %w", err)
	}
	return out, nil
}
