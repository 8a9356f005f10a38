package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ncaaf_v5/feedcache/internal/cache"
	"ncaaf_v5/feedcache/internal/fetcher"
	"ncaaf_v5/feedcache/internal/readapi"
	"ncaaf_v5/feedcache/internal/scheduler"
	"ncaaf_v5/feedcache/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	status  scheduler.Status
	tickErr error
	ticked  []string
}

func (f *fakeScheduler) Status() scheduler.Status { return f.status }

func (f *fakeScheduler) ForceTick(ctx context.Context, id string) error {
	f.ticked = append(f.ticked, id)
	return f.tickErr
}

type catalog map[string]source.Descriptor

func (c catalog) LookupKey(key string) (source.Descriptor, bool) {
	d, ok := c[key]
	return d, ok
}

func newTestServer(t *testing.T, cfg Config, sched *fakeScheduler, opts ...Option) (*Server, *cache.Store) {
	t.Helper()
	store := cache.NewStore()
	reader := readapi.NewReader(store, catalog{
		"scores:today": {ID: "scores", CacheKey: "scores:today"},
		"props":        {ID: "props", CacheKey: "props"},
	})
	return New(cfg, sched, reader, opts...), store
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHandleCache(t *testing.T) {
	s, store := newTestServer(t, Config{}, &fakeScheduler{})
	store.Set("scores:today", []byte(`{"games":[{"id":1}]}`), time.Minute)

	rec := do(s, http.MethodGet, "/v1/cache/scores:today")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("X-Cache-Stale"))

	body := decode(t, rec)
	assert.Equal(t, "scores:today", body["key"])
	assert.Equal(t, false, body["stale"])
	assert.Equal(t, false, body["fallback"])
	assert.Equal(t, map[string]interface{}{"games": []interface{}{map[string]interface{}{"id": float64(1)}}}, body["payload"])
	assert.NotEmpty(t, body["fetched_at"])
}

func TestHandleCache_FallbackAndMissing(t *testing.T) {
	s, _ := newTestServer(t, Config{}, &fakeScheduler{})

	rec := do(s, http.MethodGet, "/v1/cache/props")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Cache-Stale"))
	body := decode(t, rec)
	assert.Equal(t, true, body["fallback"])
	assert.Equal(t, map[string]interface{}{"status": "no_data_yet", "source": "props"}, body["payload"])

	rec = do(s, http.MethodGet, "/v1/cache/nothing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "no data")
}

func TestHandleStatus(t *testing.T) {
	sched := &fakeScheduler{status: scheduler.Status{
		PerSource:    []scheduler.SourceStatus{{ID: "odds", CacheKey: "odds", Limit: 1, RequestsThisWindow: 1}},
		Cache:        cache.Stats{Count: 1, Keys: []string{"odds"}},
		ActiveTimers: 1,
	}}
	s, _ := newTestServer(t, Config{}, sched)

	rec := do(s, http.MethodGet, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(1), body["active_timers"])
	perSource := body["per_source"].([]interface{})
	require.Len(t, perSource, 1)
	odds := perSource[0].(map[string]interface{})
	assert.Equal(t, "odds", odds["id"])
	assert.Equal(t, float64(1), odds["requests_this_window"])
}

func TestHandleTick_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		result string
	}{
		{"updated", nil, http.StatusOK, "updated"},
		{"unknown", fmt.Errorf("%w: nope", scheduler.ErrUnknownSource), http.StatusNotFound, "unknown_source"},
		{"rate limited", scheduler.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"window closed", scheduler.ErrWindowClosed, http.StatusConflict, "window_closed"},
		{"discarded", scheduler.ErrStaleResult, http.StatusConflict, "discarded"},
		{"stopped", scheduler.ErrStopped, http.StatusServiceUnavailable, "stopped"},
		{"fetch failed", &fetcher.Failure{Reason: fetcher.ReasonHTTPStatus, StatusCode: 503}, http.StatusBadGateway, "failed"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := &fakeScheduler{tickErr: tt.err}
			s, _ := newTestServer(t, Config{}, sched)

			rec := do(s, http.MethodPost, "/v1/sources/odds/tick")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.result, decode(t, rec)["result"])
			assert.Equal(t, []string{"odds"}, sched.ticked)
		})
	}
}

func TestHandleTick_FailureReason(t *testing.T) {
	sched := &fakeScheduler{tickErr: &fetcher.Failure{Reason: fetcher.ReasonHTTPStatus, StatusCode: 429}}
	s, _ := newTestServer(t, Config{}, sched)

	body := decode(t, do(s, http.MethodPost, "/v1/sources/odds/tick"))
	assert.Equal(t, "http_status", body["reason"])
	assert.Equal(t, float64(429), body["upstream_status"])
}

func TestHandleTick_RequiresPost(t *testing.T) {
	sched := &fakeScheduler{}
	s, _ := newTestServer(t, Config{}, sched)

	rec := do(s, http.MethodGet, "/v1/sources/odds/tick")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, sched.ticked)
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, Config{}, &fakeScheduler{},
		WithHealthCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") }),
		WithHealthCheck("database", func(ctx context.Context) error { return nil }),
	)

	rec := do(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]interface{}{"redis": "connection refused", "database": "ok"}, body["checks"])
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _ := newTestServer(t, Config{RateLimit: 1, BurstLimit: 1}, &fakeScheduler{})

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/status").Code)
	rec := do(s, http.MethodGet, "/v1/status")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health").Code, "health is not rate limited")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{EnableMetrics: true}, &fakeScheduler{})
	rec := do(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedcache_")

	s, _ = newTestServer(t, Config{}, &fakeScheduler{})
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/metrics").Code)
}

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(t, Config{}, &fakeScheduler{})

	rec := do(s, http.MethodGet, "/health")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
