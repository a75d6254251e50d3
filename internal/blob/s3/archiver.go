package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// Archiver implements domain.Archiver: each snapshot is written once as a
// JSON document and each run's positive edge observations as JSONL. The
// primary store keeps its rows; archives are a cold copy.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, audit: audit}
}

// DatasetPath is the object path of a snapshot archive, partitioned by the
// day the snapshot was created.
//
//	datasets/2026/01/31/{id}.json
func DatasetPath(h domain.DatasetHeader) string {
	return fmt.Sprintf("datasets/%s/%s.json", h.CreatedAt.UTC().Format("2006/01/02"), h.ID)
}

// ObservationsPath is the object path of one run's edge observations.
//
//	edges/2026-01-31/{runID}.jsonl
func ObservationsPath(runID string, at time.Time) string {
	return fmt.Sprintf("edges/%s/%s.jsonl", at.UTC().Format("2006-01-02"), runID)
}

// ArchiveDataset uploads ds and returns its path.
func (a *Archiver) ArchiveDataset(ctx context.Context, ds domain.SharedDataset) (string, error) {
	data, err := json.Marshal(ds)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive dataset %s marshal: %w", ds.ID, err)
	}
	path := DatasetPath(ds.Header())
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive dataset %s upload: %w", ds.ID, err)
	}
	a.log(ctx, "archive.dataset", map[string]any{"path": path, "dataset_id": ds.ID, "items": len(ds.Items)})
	return path, nil
}

// ArchiveObservations uploads obs as JSONL and returns its path. An empty
// batch writes nothing and returns "".
func (a *Archiver) ArchiveObservations(ctx context.Context, runID string, obs []domain.EdgeObservation) (string, error) {
	if len(obs) == 0 {
		return "", nil
	}
	buf, err := marshalJSONL(obs)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive observations marshal: %w", err)
	}
	path := ObservationsPath(runID, obs[0].ObservedAt)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive observations upload: %w", err)
	}
	a.log(ctx, "archive.edges", map[string]any{"path": path, "run_id": runID, "count": len(obs)})
	return path, nil
}

// log records the archive in the audit log; failures there do not fail the
// archive, which has already been written.
func (a *Archiver) log(ctx context.Context, event string, detail map[string]any) {
	if a.audit != nil {
		_ = a.audit.Log(ctx, event, detail)
	}
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
