package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/store/memory"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

const wallet = "0x52908400098527886e0f7030069857d2e4169ee7"

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeCache struct {
	mu   sync.Mutex
	sets int
	byID map[string]domain.SharedDataset
}

func (f *fakeCache) Set(_ context.Context, ds domain.SharedDataset, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byID == nil {
		f.byID = map[string]domain.SharedDataset{}
	}
	f.sets++
	f.byID[ds.ID] = ds
	return nil
}

func (f *fakeCache) Get(_ context.Context, id string) (domain.SharedDataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds, ok := f.byID[id]
	if !ok {
		return domain.SharedDataset{}, domain.ErrNotFound
	}
	return ds, nil
}

func newDatasetService(t *testing.T) (*DatasetService, *clock, *memory.Store) {
	t.Helper()
	st := memory.New()
	clk := &clock{t: t0}
	svc := NewDatasetService(st.Datasets(), st.Entitlements(), nil, st.Audit(), time.Hour,
		slog.New(slog.DiscardHandler)).WithClock(clk.Now)
	return svc, clk, st
}

func sampleEvents(n int) []domain.MatchedEvent {
	out := make([]domain.MatchedEvent, n)
	for i := range out {
		out[i] = domain.MatchedEvent{OpportunityID: "opp-" + string(rune('a'+i)), Title: "event"}
	}
	return out
}

func TestCreateSnapshot_StampsExpiry(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	ds, err := svc.CreateSnapshot(context.Background(), "run-1", sampleEvents(2))
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if ds.ID == "" {
		t.Error("ID is empty")
	}
	if !ds.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", ds.CreatedAt, t0)
	}
	if want := t0.Add(time.Hour); !ds.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", ds.ExpiresAt, want)
	}
	if len(ds.Items) != 2 {
		t.Errorf("len(Items) = %d, want 2", len(ds.Items))
	}
}

func TestActiveOrLatest_TTLBoundary(t *testing.T) {
	svc, clk, _ := newDatasetService(t)
	ctx := context.Background()
	ds, err := svc.CreateSnapshot(ctx, "run-1", sampleEvents(1))
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	tests := []struct {
		at        time.Duration
		wantStale bool
	}{
		{0, false},
		{3599 * time.Second, false},
		{time.Hour, true},
		{3601 * time.Second, true},
		{48 * time.Hour, true},
	}
	for _, tc := range tests {
		clk.Set(t0.Add(tc.at))
		cur, err := svc.ActiveOrLatest(ctx)
		if err != nil {
			t.Fatalf("ActiveOrLatest at +%v: %v", tc.at, err)
		}
		if cur.Dataset.ID != ds.ID {
			t.Errorf("at +%v: dataset = %s, want %s", tc.at, cur.Dataset.ID, ds.ID)
		}
		if cur.Stale != tc.wantStale {
			t.Errorf("at +%v: Stale = %v, want %v", tc.at, cur.Stale, tc.wantStale)
		}
	}
}

func TestActiveOrLatest_PrefersNewest(t *testing.T) {
	svc, clk, _ := newDatasetService(t)
	ctx := context.Background()

	first, _ := svc.CreateSnapshot(ctx, "run-1", sampleEvents(1))
	clk.Set(t0.Add(10 * time.Minute))
	second, _ := svc.CreateSnapshot(ctx, "run-2", sampleEvents(3))

	cur, err := svc.ActiveOrLatest(ctx)
	if err != nil {
		t.Fatalf("ActiveOrLatest: %v", err)
	}
	if cur.Dataset.ID != second.ID {
		t.Errorf("current = %s, want newest %s", cur.Dataset.ID, second.ID)
	}

	// Old snapshots are never rewritten.
	old, err := svc.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get(first): %v", err)
	}
	if len(old.Items) != 1 || !old.ExpiresAt.Equal(first.ExpiresAt) {
		t.Errorf("first dataset changed: %+v", old)
	}
}

func TestActiveOrLatest_StaleFallbackPicksNewestExpired(t *testing.T) {
	svc, clk, _ := newDatasetService(t)
	ctx := context.Background()

	svc.CreateSnapshot(ctx, "run-1", nil)
	clk.Set(t0.Add(5 * time.Minute))
	newer, _ := svc.CreateSnapshot(ctx, "run-2", nil)

	clk.Set(t0.Add(3 * time.Hour))
	cur, err := svc.ActiveOrLatest(ctx)
	if err != nil {
		t.Fatalf("ActiveOrLatest: %v", err)
	}
	if !cur.Stale || cur.Dataset.ID != newer.ID {
		t.Errorf("got (%s, stale=%v), want (%s, stale=true)", cur.Dataset.ID, cur.Stale, newer.ID)
	}
}

func TestActiveOrLatest_EmptyStoreIsNotFound(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	_, err := svc.ActiveOrLatest(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if k := domain.KindOf(err); k != domain.KindNotFound {
		t.Errorf("KindOf = %s, want %s", k, domain.KindNotFound)
	}
}

func TestCreateSnapshot_EmptyIsValid(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	ctx := context.Background()
	ds, err := svc.CreateSnapshot(ctx, "run-1", nil)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if ds.Items == nil || len(ds.Items) != 0 {
		t.Errorf("Items = %#v, want empty non-nil slice", ds.Items)
	}
	cur, err := svc.ActiveOrLatest(ctx)
	if err != nil {
		t.Fatalf("ActiveOrLatest: %v", err)
	}
	if cur.Stale || cur.Dataset.ID != ds.ID {
		t.Errorf("current = (%s, stale=%v), want the empty snapshot, active", cur.Dataset.ID, cur.Stale)
	}
}

func TestGrantAccess_ValidUntilIsDatasetExpiry(t *testing.T) {
	svc, clk, st := newDatasetService(t)
	ctx := context.Background()

	d1, _ := svc.CreateSnapshot(ctx, "run-1", sampleEvents(1))
	clk.Set(t0.Add(20 * time.Minute))
	ent, ds, err := svc.GrantAccess(ctx, wallet, " tx-1 ")
	if err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if ds.ID != d1.ID || ent.DatasetID != d1.ID {
		t.Errorf("granted dataset = %s, want %s", ent.DatasetID, d1.ID)
	}
	if !ent.ValidUntil.Equal(d1.ExpiresAt) {
		t.Errorf("ValidUntil = %v, want %v", ent.ValidUntil, d1.ExpiresAt)
	}
	if ent.TxRef != "tx-1" {
		t.Errorf("TxRef = %q, want tx-1", ent.TxRef)
	}

	// A newer snapshot neither extends nor shortens the grant.
	clk.Set(t0.Add(30 * time.Minute))
	svc.CreateSnapshot(ctx, "run-2", sampleEvents(2))

	clk.Set(t0.Add(59 * time.Minute))
	status, err := svc.AccessStatus(ctx, wallet)
	if err != nil {
		t.Fatalf("AccessStatus: %v", err)
	}
	if !status.IsValid {
		t.Error("IsValid = false at +59m, want true")
	}
	if !status.Entitlement.ValidUntil.Equal(d1.ExpiresAt) {
		t.Errorf("ValidUntil = %v, want %v", status.Entitlement.ValidUntil, d1.ExpiresAt)
	}

	clk.Set(t0.Add(61 * time.Minute))
	status, err = svc.AccessStatus(ctx, wallet)
	if err != nil {
		t.Fatalf("AccessStatus: %v", err)
	}
	if status.IsValid {
		t.Error("IsValid = true at +61m, want false")
	}

	entries, _ := st.Audit().List(ctx, domain.ListOpts{})
	if len(entries) != 1 || entries[0].Event != "entitlement.granted" {
		t.Errorf("audit = %+v, want one entitlement.granted", entries)
	}
}

func TestGrantAccess_WalletCaseInsensitive(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	ctx := context.Background()
	svc.CreateSnapshot(ctx, "run-1", nil)

	ent, _, err := svc.GrantAccess(ctx, wallet, "")
	if err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if ent.Wallet != "0x52908400098527886E0F7030069857D2E4169EE7" {
		t.Errorf("Wallet = %s, want checksummed form", ent.Wallet)
	}
	status, err := svc.AccessStatus(ctx, "0x"+strings.ToUpper(wallet[2:]))
	if err != nil {
		t.Fatalf("AccessStatus: %v", err)
	}
	if status.Entitlement.ID != ent.ID {
		t.Errorf("entitlement = %s, want %s", status.Entitlement.ID, ent.ID)
	}
}

func TestGrantAccess_Errors(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	ctx := context.Background()

	if _, _, err := svc.GrantAccess(ctx, wallet, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("no dataset: err = %v, want ErrNotFound", err)
	}

	svc.CreateSnapshot(ctx, "run-1", nil)
	for _, w := range []string{"", "abc", "52908400098527886e0f7030069857d2e4169ee7", "0x1234", "0xZZ908400098527886e0f7030069857d2e4169ee7"} {
		if _, _, err := svc.GrantAccess(ctx, w, ""); domain.KindOf(err) != domain.KindInvalidInput {
			t.Errorf("GrantAccess(%q) kind = %s, want invalid_input", w, domain.KindOf(err))
		}
	}

	if _, err := svc.AccessStatus(ctx, "0x0000000000000000000000000000000000000001"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AccessStatus(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestGet_ReadsThroughCache(t *testing.T) {
	st := memory.New()
	cache := &fakeCache{}
	svc := NewDatasetService(st.Datasets(), st.Entitlements(), cache, nil, 0, slog.New(slog.DiscardHandler))
	if svc.TTL() != DefaultSnapshotTTL {
		t.Errorf("TTL = %v, want %v", svc.TTL(), DefaultSnapshotTTL)
	}
	ctx := context.Background()

	ds, err := svc.CreateSnapshot(ctx, "run-1", sampleEvents(1))
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cache.sets)
	}
	got, err := svc.Get(ctx, ds.ID)
	if err != nil || got.ID != ds.ID {
		t.Fatalf("Get = (%v, %v)", got.ID, err)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
}
