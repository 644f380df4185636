package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blogpilot/internal/config"
	"blogpilot/internal/core"
	"blogpilot/internal/pipeline"
	"blogpilot/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	pingErr error
	stats   store.Stats
	recent  []core.ArticleRecord
	limit   int
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) Stats(context.Context) (store.Stats, error) { return f.stats, nil }

func (f *fakeStore) ListRecent(_ context.Context, limit int) ([]core.ArticleRecord, error) {
	f.limit = limit
	return f.recent, nil
}

type fakeQueue int

func (q fakeQueue) Len() int { return int(q) }

type fakeScanner struct {
	calls chan struct{}
}

func (f *fakeScanner) ScanOnce(context.Context) (*pipeline.CycleStats, error) {
	f.calls <- struct{}{}
	return &pipeline.CycleStats{
		Scanned: 2,
		Counts:  map[pipeline.Outcome]int{pipeline.OutcomePublished: 2},
	}, nil
}

func newTestServer(opts Options, adminKey string) *Server {
	return New(context.Background(), config.Server{Host: "127.0.0.1", Port: 0}, adminKey, opts)
}

func serve(s *Server, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		store  ArticleStore
		status int
		check  string
	}{
		{"no store", nil, http.StatusOK, "disabled"},
		{"store ok", &fakeStore{}, http.StatusOK, "ok"},
		{"store down", &fakeStore{pingErr: errors.New("connection refused")}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(Options{Store: tt.store}, "")
			rec := serve(s, http.MethodGet, "/health", "")

			assert.Equal(t, tt.status, rec.Code)
			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.check, body.Checks["database"])
		})
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(Options{
		Store:   &fakeStore{stats: store.Stats{Articles: 12, Series: 2, Reviews: 30, Drafts: 3}},
		Queue:   fakeQueue(4),
		Version: "test",
	}, "")
	s.RecordCycle(&pipeline.CycleStats{Scanned: 1, Counts: map[pipeline.Outcome]int{pipeline.OutcomeDraft: 1}}, nil)

	rec := serve(s, http.MethodGet, "/api/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "test", body.Version)
	require.NotNil(t, body.Store)
	assert.Equal(t, 12, body.Store.Articles)
	assert.Equal(t, 4, body.RetryQueue)
	require.NotNil(t, body.LastScan)
	assert.Equal(t, 1, body.LastScan.Outcomes["draft"])
}

func TestRecentArticles(t *testing.T) {
	st := &fakeStore{recent: []core.ArticleRecord{{ID: "a1", Title: "Go Generics"}}}
	s := newTestServer(Options{Store: st}, "")

	rec := serve(s, http.MethodGet, "/api/articles/recent?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, st.limit)
	assert.Contains(t, rec.Body.String(), "Go Generics")

	rec = serve(s, http.MethodGet, "/api/articles/recent?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanRequiresAdminKey(t *testing.T) {
	sc := &fakeScanner{calls: make(chan struct{}, 1)}

	disabled := newTestServer(Options{Scanner: sc}, "")
	assert.Equal(t, http.StatusForbidden, serve(disabled, http.MethodPost, "/api/scan", "Bearer x").Code)

	s := newTestServer(Options{Scanner: sc}, "secret")
	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodPost, "/api/scan", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodPost, "/api/scan", "Bearer wrong").Code)
	assert.Equal(t, http.StatusAccepted, serve(s, http.MethodPost, "/api/scan", "Bearer secret").Code)

	select {
	case <-sc.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("scan was not started")
	}
	assert.Eventually(t, func() bool {
		var body StatusResponse
		rec := serve(s, http.MethodGet, "/api/status", "")
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			return false
		}
		return !body.Scanning && body.LastScan != nil && body.LastScan.Outcomes["published"] == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("blogpilot_files_processed_total 1\n"))
	})}, "")

	rec := serve(s, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blogpilot_files_processed_total")
}

func TestCORS(t *testing.T) {
	s := New(context.Background(), config.Server{CORSOrigins: []string{"https://ops.example"}}, "", Options{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
