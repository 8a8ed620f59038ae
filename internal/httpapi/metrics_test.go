package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricsMiddleware_UsesRoutePattern ensures the metrics middleware labels
// by the chi route pattern instead of the raw URL path.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/things/42", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/things/{id}", "GET", "202")); got < 1 {
		t.Fatalf("requests_total for pattern = %v", got)
	}

	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := mrr.Body.Bytes()
	if !bytes.Contains(body, []byte("noshowd_http_requests_total")) {
		t.Fatalf("metrics output missing noshowd_http_requests_total")
	}
	if bytes.Contains(body, []byte(`path="/things/42"`)) {
		t.Fatalf("raw path leaked into labels")
	}
}

func TestIncrementRejection(t *testing.T) {
	before := testutil.ToFloat64(rejectionsTotal.WithLabelValues("unspecified"))
	IncrementRejection("")
	if got := testutil.ToFloat64(rejectionsTotal.WithLabelValues("unspecified")); got != before+1 {
		t.Fatalf("rejections=%v want %v", got, before+1)
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	w := do(t, NewMux(&mockService{}), http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("noshowd_http_inflight_requests")) {
		t.Fatalf("inflight gauge missing")
	}
}

func TestItoa(t *testing.T) {
	for n, want := range map[int]string{0: "0", 7: "7", 200: "200", 503: "503"} {
		if got := itoa(n); got != want {
			t.Fatalf("itoa(%d)=%q", n, got)
		}
	}
}
