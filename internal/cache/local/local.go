// Package local provides in-process stand-ins for the Redis-backed lock and
// event bus, used when no Redis address is configured.
package local

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// LockManager implements domain.LockManager within one process. Expired
// locks are reclaimed by the next Acquire.
type LockManager struct {
	mu   sync.Mutex
	held map[string]heldLock
	seq  uint64
	now  func() time.Time
}

type heldLock struct {
	token   uint64
	expires time.Time // zero means no expiry
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]heldLock), now: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[key]; ok && !l.expired(h) {
		return nil, fmt.Errorf("local: lock %s: %w", key, domain.ErrLockHeld)
	}
	l.seq++
	l.held[key] = heldLock{token: l.seq, expires: l.deadline(ttl)}
	return &localLock{lm: l, key: key, token: l.seq}, nil
}

func (l *LockManager) expired(h heldLock) bool {
	return !h.expires.IsZero() && !l.now().Before(h.expires)
}

func (l *LockManager) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return l.now().Add(ttl)
}

type localLock struct {
	lm    *LockManager
	key   string
	token uint64
	once  sync.Once
}

func (k *localLock) Refresh(_ context.Context, ttl time.Duration) error {
	k.lm.mu.Lock()
	defer k.lm.mu.Unlock()
	h, ok := k.lm.held[k.key]
	if !ok || h.token != k.token || k.lm.expired(h) {
		return fmt.Errorf("local: lock %s lost: %w", k.key, domain.ErrLockHeld)
	}
	h.expires = k.lm.deadline(ttl)
	k.lm.held[k.key] = h
	return nil
}

func (k *localLock) Release() {
	k.once.Do(func() {
		k.lm.mu.Lock()
		defer k.lm.mu.Unlock()
		if h, ok := k.lm.held[k.key]; ok && h.token == k.token {
			delete(k.lm.held, k.key)
		}
	})
}

// Bus implements domain.SignalBus with in-process fan-out and a bounded
// in-memory stream per name.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	maxLen  int
}

// NewBus returns a Bus keeping at most maxLen entries per stream.
func NewBus(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &Bus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every subscriber whose pattern matches
// channel. Slow subscribers drop messages.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, chans := range b.subs {
		if ok, _ := path.Match(pattern, channel); !ok {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// StreamAppend appends payload to stream, trimming the oldest entries.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.streams[stream]
	var next uint64 = 1
	if n := len(entries); n > 0 {
		last, _ := strconv.ParseUint(entries[n-1].ID, 10, 64)
		next = last + 1
	}
	entries = append(entries, domain.StreamMessage{ID: strconv.FormatUint(next, 10), Payload: payload})
	if len(entries) > b.maxLen {
		entries = entries[len(entries)-b.maxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries with an id greater than lastID.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, _ := strconv.ParseUint(lastID, 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.SignalBus   = (*Bus)(nil)
)
