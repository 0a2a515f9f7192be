package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Metrics) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Handler)
	return r, metrics
}

func TestMetricsCountsRequests(t *testing.T) {
	r, metrics := newTestRouter(t)
	r.Get("/projects/{project}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/projects/billing", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	// The label carries the pattern, not the concrete project name.
	count := testutil.ToFloat64(metrics.requestCount.WithLabelValues("GET", "/projects/{project}", "200"))
	assert.Equal(t, float64(1), count)
}

func TestMetricsRecordsStatus(t *testing.T) {
	r, metrics := newTestRouter(t)
	r.Get("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "manifest deleted", http.StatusGone)
	})

	req := httptest.NewRequest(http.MethodGet, "/gone", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	count := testutil.ToFloat64(metrics.requestCount.WithLabelValues("GET", "/gone", "410"))
	assert.Equal(t, float64(1), count)
}

func TestMetricsFallsBackToRawPath(t *testing.T) {
	r, metrics := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/no/such/route", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)

	count := testutil.ToFloat64(metrics.requestCount.WithLabelValues("GET", "/no/such/route", "404"))
	assert.Equal(t, float64(1), count)
}

func TestMetricsSkipsMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Handler)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "http_requests_total" {
			assert.Empty(t, mf.GetMetric())
		}
	}
}
