package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_LabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/datasets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := Middleware(mux)

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "GET /api/datasets/{id}", "404"))
	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/datasets/"+id, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "GET /api/datasets/{id}", "404"))
	if after-before != 3 {
		t.Errorf("counter delta = %v, want 3 (one series for every id)", after-before)
	}
}

func TestObserveRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("completed", "true"))
	ObserveRun("completed", true)
	ObserveStage("score", "degraded", 20*time.Millisecond)
	if got := testutil.ToFloat64(RunsTotal.WithLabelValues("completed", "true")) - before; got != 1 {
		t.Errorf("runs delta = %v, want 1", got)
	}
}
