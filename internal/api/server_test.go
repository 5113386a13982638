package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/bugzilla"
	"github.com/vikigenius/bugscraper/internal/metrics"
	"github.com/vikigenius/bugscraper/internal/progress"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	s := NewServer(progress.NewTracker(nil), zap.NewNop())

	rec := serve(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestReadyWithoutTracker(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/readyz").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, s, "/v1/progress").Code)
}

func TestProgressSnapshot(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tracker := progress.NewTracker(fixedClock{now: start})
	tracker.Start("run-1", "kernel", bugzilla.KindBug, 3)
	tracker.Advance("[1,1001)", bugzilla.OutcomeOK, 12)
	tracker.Advance("[1001,2001)", bugzilla.OutcomeEmpty, 0)

	rec := serve(t, NewServer(tracker, zap.NewNop()), "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, progress.StageRunning, snap.Stage)
	assert.Equal(t, 3, snap.TotalUnits)
	assert.Equal(t, 2, snap.DoneUnits)
	assert.Equal(t, 12, snap.Saved)
	assert.Equal(t, "[1001,2001)", snap.Current)
	assert.True(t, start.Equal(snap.StartedAt))
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	s := NewServer(progress.NewTracker(nil), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.Init()
	s := NewServer(progress.NewTracker(nil), nil)
	_ = serve(t, s, "/healthz")

	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func routeObservations(t *testing.T, route string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total uint64
	for _, mf := range families {
		if mf.GetName() != "http_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "route" && lp.GetValue() == route {
					total += m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return total
}

// Not parallel: the other tests in this package hit the same routes.
func TestRequestDurationIsLabeledByRoute(t *testing.T) {
	metrics.Init()
	s := NewServer(progress.NewTracker(nil), zap.NewNop())

	health := routeObservations(t, "/healthz")
	prog := routeObservations(t, "/v1/progress")

	require.Equal(t, http.StatusOK, serve(t, s, "/healthz").Code)
	require.Equal(t, http.StatusOK, serve(t, s, "/v1/progress").Code)
	require.Equal(t, http.StatusOK, serve(t, s, "/v1/progress").Code)

	assert.Equal(t, health+1, routeObservations(t, "/healthz"))
	assert.Equal(t, prog+2, routeObservations(t, "/v1/progress"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}
