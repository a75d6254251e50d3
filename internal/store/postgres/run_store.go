package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func marshalStages(stages []domain.StageReport) ([]byte, error) {
	if stages == nil {
		stages = []domain.StageReport{}
	}
	return json.Marshal(stages)
}

// Create inserts a new run record.
func (s *RunStore) Create(ctx context.Context, run domain.PipelineRun) error {
	stages, err := marshalStages(run.Stages)
	if err != nil {
		return fmt.Errorf("postgres: marshal run stages: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, status, started_at, completed_at, stages, market_matches_count, shared_dataset_id, error_message)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, $8)`,
		run.ID, string(run.Status), run.StartedAt, run.CompletedAt, stages, run.MatchCount, run.DatasetID, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// Update overwrites the mutable fields of a run record.
func (s *RunStore) Update(ctx context.Context, run domain.PipelineRun) error {
	stages, err := marshalStages(run.Stages)
	if err != nil {
		return fmt.Errorf("postgres: marshal run stages: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs SET
			status               = $2,
			completed_at         = $3,
			stages               = $4,
			market_matches_count = $5,
			shared_dataset_id    = NULLIF($6, '')::uuid,
			error_message        = $7
		WHERE id = $1::uuid`,
		run.ID, string(run.Status), run.CompletedAt, stages, run.MatchCount, run.DatasetID, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("postgres: update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

const runCols = `id::text, status, started_at, completed_at, stages, market_matches_count,
	COALESCE(shared_dataset_id::text, ''), error_message`

func scanRun(row pgx.Row) (domain.PipelineRun, error) {
	var r domain.PipelineRun
	var status string
	var stages []byte
	if err := row.Scan(&r.ID, &status, &r.StartedAt, &r.CompletedAt, &stages, &r.MatchCount, &r.DatasetID, &r.ErrorMessage); err != nil {
		return domain.PipelineRun{}, err
	}
	r.Status = domain.RunStatus(status)
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &r.Stages); err != nil {
			return domain.PipelineRun{}, fmt.Errorf("unmarshal stages: %w", err)
		}
	}
	return r, nil
}

// Get retrieves one run by id.
func (s *RunStore) Get(ctx context.Context, id string) (domain.PipelineRun, error) {
	if !isUUID(id) {
		return domain.PipelineRun{}, fmt.Errorf("postgres: run %q: %w", id, domain.ErrNotFound)
	}
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runCols+` FROM pipeline_runs WHERE id = $1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PipelineRun{}, fmt.Errorf("postgres: run %s: %w", id, domain.ErrNotFound)
		}
		return domain.PipelineRun{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return r, nil
}

// ListRecent returns the newest runs first.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runCols+` FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs rows: %w", err)
	}
	return out, nil
}
