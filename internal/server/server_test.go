package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/server/handler"
	"github.com/alanyoungcy/edgefinder/internal/service"
	"github.com/alanyoungcy/edgefinder/internal/store/memory"
)

const (
	apiKey = "test-key"
	wallet = "0x52908400098527886e0f7030069857d2e4169ee7"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type onceTrigger struct{ n int }

func (t *onceTrigger) Trigger() bool {
	t.n++
	return t.n == 1
}

// countingLimiter allows the first limit calls per key.
type countingLimiter struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[key]++
	return l.calls[key] <= limit, nil
}

type mapBlobs map[string]string

func (m mapBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m mapBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, body := range m {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(body))})
		}
	}
	return out, nil
}

type fixture struct {
	srv      *httptest.Server
	clk      *clock
	datasets *service.DatasetService
	store    *memory.Store
	blobs    mapBlobs
}

type fixtureOpts struct {
	limiter  domain.RateLimiter
	limit    int
	health   map[string]handler.Pinger
	archives bool
	noAPIKey bool
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	st := memory.New()
	clk := &clock{t: t0}
	ds := service.NewDatasetService(st.Datasets(), st.Entitlements(), nil, st.Audit(), time.Hour, logger).WithClock(clk.Now)
	edges := service.NewEdgeService(st.Edges(), nil, logger).WithClock(clk.Now)

	f := &fixture{clk: clk, datasets: ds, store: st, blobs: mapBlobs{}}
	var dh *handler.DatasetHandler
	if o.archives {
		dh = handler.NewDatasetHandler(ds, f.blobs, func(h domain.DatasetHeader) string { return "datasets/" + h.ID + ".json" }, logger)
	} else {
		dh = handler.NewDatasetHandler(ds, nil, nil, logger)
	}
	key := apiKey
	if o.noAPIKey {
		key = ""
	}
	h := NewHandler(Config{
		CORSOrigins: []string{"https://app.example"},
		APIKey:      key,
		RateLimit:   o.limit,
		RateWindow:  time.Minute,
	}, Handlers{
		Health:        handler.NewHealthHandler(o.health, logger),
		Datasets:      dh,
		Entitlements:  handler.NewEntitlementHandler(ds, logger),
		Opportunities: handler.NewOpportunityHandler(edges, logger),
		Pipeline:      handler.NewPipelineHandler(st.Runs(), &onceTrigger{}, logger),
	}, nil, o.limiter, logger)

	f.srv = httptest.NewServer(h)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func errorKind(t *testing.T, body []byte) domain.ErrorKind {
	t.Helper()
	var e struct {
		Error struct {
			Kind domain.ErrorKind `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("error body %s: %v", body, err)
	}
	return e.Error.Kind
}

func TestCurrentDataset(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	resp, body := f.do(t, http.MethodGet, "/api/datasets/current", "", nil)
	if resp.StatusCode != http.StatusNotFound || errorKind(t, body) != domain.KindNotFound {
		t.Fatalf("empty store: %d %s, want 404 not_found", resp.StatusCode, body)
	}

	ds, err := f.datasets.CreateSnapshot(context.Background(), "run-1", nil)
	if err != nil {
		t.Fatal(err)
	}

	var cur domain.CurrentDataset
	resp, body = f.do(t, http.MethodGet, "/api/datasets/current", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &cur); err != nil {
		t.Fatal(err)
	}
	if cur.Dataset.ID != ds.ID || cur.Stale {
		t.Errorf("current = %s stale=%v, want %s fresh", cur.Dataset.ID, cur.Stale, ds.ID)
	}
	if !strings.Contains(string(body), `"items":[]`) {
		t.Errorf("empty snapshot should serialise items as []: %s", body)
	}

	f.clk.Advance(2 * time.Hour)
	_, body = f.do(t, http.MethodGet, "/api/datasets/current", "", nil)
	if err := json.Unmarshal(body, &cur); err != nil {
		t.Fatal(err)
	}
	if !cur.Stale || cur.Dataset.ID != ds.ID {
		t.Errorf("after expiry: stale=%v id=%s, want stale fallback", cur.Stale, cur.Dataset.ID)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/datasets/"+ds.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET by id = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/datasets/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing = %d, want 404", resp.StatusCode)
	}
}

func TestEntitlements(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if _, err := f.datasets.CreateSnapshot(context.Background(), "run-1", nil); err != nil {
		t.Fatal(err)
	}
	body := `{"wallet":"` + wallet + `","tx_ref":"0xabc"}`

	resp, data := f.do(t, http.MethodPost, "/api/entitlements", body, nil)
	if resp.StatusCode != http.StatusUnauthorized || errorKind(t, data) != domain.KindUnauthorized {
		t.Fatalf("no key: %d %s, want 401", resp.StatusCode, data)
	}

	auth := map[string]string{"Authorization": "Bearer " + apiKey, "Content-Type": "application/json"}
	resp, data = f.do(t, http.MethodPost, "/api/entitlements", body, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant = %d %s", resp.StatusCode, data)
	}

	resp, data = f.do(t, http.MethodPost, "/api/entitlements", `{"wallet":"not-a-wallet"}`, map[string]string{"X-API-Key": apiKey})
	if resp.StatusCode != http.StatusBadRequest || errorKind(t, data) != domain.KindInvalidInput {
		t.Errorf("bad wallet: %d %s, want 400 invalid_input", resp.StatusCode, data)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/entitlements", `{"wallet":`, auth)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: %d, want 400", resp.StatusCode)
	}

	var st domain.EntitlementStatus
	resp, data = f.do(t, http.MethodGet, "/api/entitlements/"+strings.ToUpper(wallet[2:]), "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("wallet without 0x prefix: %d, want 400", resp.StatusCode)
	}
	resp, data = f.do(t, http.MethodGet, "/api/entitlements/"+wallet, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d %s", resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if !st.IsValid {
		t.Error("IsValid = false right after grant")
	}

	f.clk.Advance(61 * time.Minute)
	_, data = f.do(t, http.MethodGet, "/api/entitlements/"+wallet, "", nil)
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.IsValid {
		t.Error("IsValid = true after the dataset expired")
	}
}

func TestWritesRefusedWithoutAPIKey(t *testing.T) {
	f := newFixture(t, fixtureOpts{noAPIKey: true})
	if _, err := f.datasets.CreateSnapshot(context.Background(), "run-1", nil); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"/api/entitlements", "/api/pipeline/trigger"} {
		body := `{"wallet":"` + wallet + `"}`
		resp, data := f.do(t, http.MethodPost, path, body, map[string]string{"Authorization": "Bearer anything"})
		if resp.StatusCode != http.StatusServiceUnavailable || errorKind(t, data) != domain.KindConfiguration {
			t.Errorf("POST %s = %d %s, want 503 configuration_error", path, resp.StatusCode, data)
		}
	}
	if st, _ := f.datasets.AccessStatus(context.Background(), wallet); st.IsValid {
		t.Error("an entitlement was granted without an api key configured")
	}

	resp, _ := f.do(t, http.MethodGet, "/api/datasets/current", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reads = %d, want 200", resp.StatusCode)
	}
}

func TestOpportunityAnalytics(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	resp, data := f.do(t, http.MethodGet, "/api/opportunities/opp-1/analytics?window_hours=abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest || errorKind(t, data) != domain.KindInvalidInput {
		t.Errorf("bad window: %d %s", resp.StatusCode, data)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/opportunities/opp-1/analytics?threshold=-1", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative threshold: %d, want 400", resp.StatusCode)
	}

	var a domain.EdgeAnalytics
	resp, data = f.do(t, http.MethodGet, "/api/opportunities/opp-1/analytics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analytics = %d %s", resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatal(err)
	}
	if a.HasData || a.OpportunityID != "opp-1" || a.WindowHours != 24 {
		t.Errorf("analytics = %+v", a)
	}

	resp, data = f.do(t, http.MethodGet, "/api/opportunities/opp-1/history", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"points":[]`) {
		t.Errorf("history = %d %s", resp.StatusCode, data)
	}
}

func TestPipelineEndpoints(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	run := domain.PipelineRun{ID: "run-1", Status: domain.RunCompleted, StartedAt: t0}
	if err := f.store.Runs().Create(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	resp, data := f.do(t, http.MethodGet, "/api/pipeline/runs/run-1", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"status":"completed"`) {
		t.Errorf("get run = %d %s", resp.StatusCode, data)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/pipeline/runs?limit=5", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("list runs = %d", resp.StatusCode)
	}

	auth := map[string]string{"X-API-Key": apiKey}
	resp, data = f.do(t, http.MethodPost, "/api/pipeline/trigger", "", auth)
	if resp.StatusCode != http.StatusAccepted || !strings.Contains(string(data), `"accepted"`) {
		t.Errorf("first trigger = %d %s", resp.StatusCode, data)
	}
	_, data = f.do(t, http.MethodPost, "/api/pipeline/trigger", "", auth)
	if !strings.Contains(string(data), `"already_pending"`) {
		t.Errorf("second trigger = %s", data)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, fixtureOpts{limiter: &countingLimiter{}, limit: 2})

	for i := 0; i < 2; i++ {
		if resp, _ := f.do(t, http.MethodGet, "/api/pipeline/runs", "", nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d = %d", i, resp.StatusCode)
		}
	}
	resp, data := f.do(t, http.MethodGet, "/api/pipeline/runs", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests || errorKind(t, data) != domain.KindRateLimited {
		t.Errorf("third request = %d %s, want 429", resp.StatusCode, data)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
	// Health and metrics are outside the limited API.
	if resp, _ := f.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	f := newFixture(t, fixtureOpts{limiter: &countingLimiter{err: errors.New("redis down")}, limit: 1})
	for i := 0; i < 3; i++ {
		if resp, _ := f.do(t, http.MethodGet, "/api/pipeline/runs", "", nil); resp.StatusCode != http.StatusOK {
			t.Errorf("request %d = %d, want 200 while the limiter is down", i, resp.StatusCode)
		}
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, fixtureOpts{health: map[string]handler.Pinger{
		"postgres": handler.PingFunc(func(context.Context) error { return nil }),
		"redis":    handler.PingFunc(func(context.Context) error { return errors.New("refused") }),
	}})
	resp, data := f.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("healthz = %d, want 503", resp.StatusCode)
	}
	if !strings.Contains(string(data), `"redis":"down"`) || !strings.Contains(string(data), `"postgres":"ok"`) {
		t.Errorf("body = %s", data)
	}
}

func TestDatasetArchive(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ds, _ := f.datasets.CreateSnapshot(context.Background(), "run-1", nil)
	resp, data := f.do(t, http.MethodGet, "/api/datasets/"+ds.ID+"/archive", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || errorKind(t, data) != domain.KindConfiguration {
		t.Errorf("archives disabled: %d %s, want 503 configuration_error", resp.StatusCode, data)
	}

	f = newFixture(t, fixtureOpts{archives: true})
	ds, _ = f.datasets.CreateSnapshot(context.Background(), "run-2", nil)
	resp, _ = f.do(t, http.MethodGet, "/api/datasets/"+ds.ID+"/archive", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing archive = %d, want 404", resp.StatusCode)
	}
	f.blobs["datasets/"+ds.ID+".json"] = `{"id":"` + ds.ID + `"}`
	resp, data = f.do(t, http.MethodGet, "/api/datasets/"+ds.ID+"/archive", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), ds.ID) {
		t.Errorf("archive = %d %s", resp.StatusCode, data)
	}

	resp, data = f.do(t, http.MethodGet, "/api/archives", "", nil)
	var listing struct {
		Prefix   string            `json:"prefix"`
		Archives []domain.BlobInfo `json:"archives"`
	}
	if err := json.Unmarshal(data, &listing); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("archives = %d %s", resp.StatusCode, data)
	}
	if listing.Prefix != "datasets/" || len(listing.Archives) != 1 || listing.Archives[0].Path != "datasets/"+ds.ID+".json" {
		t.Errorf("listing = %+v", listing)
	}
	resp, data = f.do(t, http.MethodGet, "/api/archives?prefix=secrets/", "", nil)
	if resp.StatusCode != http.StatusBadRequest || errorKind(t, data) != domain.KindInvalidInput {
		t.Errorf("foreign prefix = %d %s, want 400 invalid_input", resp.StatusCode, data)
	}
}

func TestCORSAndMetrics(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	resp, _ := f.do(t, http.MethodOptions, "/api/entitlements", "", map[string]string{
		"Origin":                        "https://app.example",
		"Access-Control-Request-Method": "POST",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
	resp, _ = f.do(t, http.MethodOptions, "/api/entitlements", "", map[string]string{"Origin": "https://evil.example"})
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin received CORS headers")
	}

	f.do(t, http.MethodGet, "/api/datasets/current", "", nil)
	resp, data := f.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "edgefinder_http_requests_total") {
		t.Errorf("metrics = %d, missing http counter", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}
