package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

func TestChunkBounds(t *testing.T) {
	tests := []struct {
		n, size int
		want    [][2]int
	}{
		{0, 500, nil},
		{1, 500, [][2]int{{0, 1}}},
		{500, 500, [][2]int{{0, 500}}},
		{1201, 500, [][2]int{{0, 500}, {500, 1000}, {1000, 1201}}},
	}
	for _, tc := range tests {
		got := chunkBounds(tc.n, tc.size)
		if len(got) != len(tc.want) {
			t.Errorf("chunkBounds(%d, %d) = %v, want %v", tc.n, tc.size, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("chunkBounds(%d, %d)[%d] = %v, want %v", tc.n, tc.size, i, got[i], tc.want[i])
			}
		}
	}
}

// fakeResults fails the failAt-th Exec of its batch.
type fakeResults struct {
	failAt int
	calls  int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.calls++
	if r.calls-1 == r.failAt {
		return pgconn.CommandTag{}, errors.New("constraint violation")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("unused") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

type fakeBatcher struct {
	batches []int // rows per batch sent
	failRow int   // absolute row index that fails, -1 for none
}

func (f *fakeBatcher) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	offset := 0
	for _, n := range f.batches {
		offset += n
	}
	f.batches = append(f.batches, b.Len())
	failAt := -1
	if f.failRow >= offset && f.failRow < offset+b.Len() {
		failAt = f.failRow - offset
	}
	return &fakeResults{failAt: failAt}
}

func TestSendChunked(t *testing.T) {
	db := &fakeBatcher{failRow: -1}
	queued := 0
	err := sendChunked(context.Background(), db, "test", 1100, func(b *pgx.Batch, i int) {
		queued++
		b.Queue("SELECT $1", i)
	})
	if err != nil {
		t.Fatalf("sendChunked: %v", err)
	}
	if queued != 1100 {
		t.Errorf("queued = %d, want 1100", queued)
	}
	want := []int{500, 500, 100}
	if len(db.batches) != len(want) {
		t.Fatalf("batches = %v, want %v", db.batches, want)
	}
	for i := range want {
		if db.batches[i] != want[i] {
			t.Errorf("batch %d = %d rows, want %d", i, db.batches[i], want[i])
		}
	}
}

func TestSendChunked_AbortsRemainingChunks(t *testing.T) {
	db := &fakeBatcher{failRow: 620}
	err := sendChunked(context.Background(), db, "append", 1500, func(b *pgx.Batch, i int) {
		b.Queue("SELECT $1", i)
	})
	if err == nil {
		t.Fatal("sendChunked error = nil, want failure")
	}
	if !strings.Contains(err.Error(), "chunk 1") || !strings.Contains(err.Error(), "row 120") {
		t.Errorf("error = %q, want chunk 1 row 120", err)
	}
	if len(db.batches) != 2 {
		t.Errorf("batches sent = %d, want 2 (third chunk must not be sent)", len(db.batches))
	}
}

func TestWithRange(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := withRange("SELECT * FROM t WHERE venue = $1", []any{"kalshi"}, "created_at", "created_at DESC",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	want := "SELECT * FROM t WHERE venue = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4"
	if q != want {
		t.Errorf("query = %q\nwant %q", q, want)
	}
	if len(args) != 4 || args[3] != 20 {
		t.Errorf("args = %v", args)
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Errorf("names = %v, want 001_init.sql first", names)
	}
}

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "edge"})
	if got != "postgres://u:p@db:5432/edge?sslmode=disable" {
		t.Errorf("DSN = %q", got)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x"}); got != "postgres://x" {
		t.Errorf("DSN override = %q", got)
	}
}
