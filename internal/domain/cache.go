package domain

import (
	"context"
	"time"
)

// DatasetCache holds datasets by id. Datasets are immutable, so entries never
// need invalidation; "current" is never cached.
type DatasetCache interface {
	Set(ctx context.Context, ds SharedDataset, ttl time.Duration) error
	Get(ctx context.Context, id string) (SharedDataset, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lock is a held lock. It expires unless refreshed before its ttl runs out.
type Lock interface {
	// Refresh extends the lock to ttl from now. It returns ErrLockHeld when
	// the lock has already expired or passed to another holder.
	Refresh(ctx context.Context, ttl time.Duration) error
	// Release gives the lock up. It is idempotent.
	Release()
}

// LockManager provides mutual exclusion across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Event channels published on the SignalBus.
const (
	ChannelRuns     = "edgefinder:runs"
	ChannelDatasets = "edgefinder:datasets"
	StreamRuns      = "edgefinder:runs:log"
)

// Event is the envelope published on the bus and relayed to websocket clients.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}
