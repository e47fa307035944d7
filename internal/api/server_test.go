package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/aggregator"
	"github.com/JakeFAU/statement-crawler/internal/metrics"
)

type fakeProgress struct {
	snap aggregator.Snapshot
	ok   bool
}

func (f fakeProgress) Progress() (aggregator.Snapshot, bool) { return f.snap, f.ok }

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	server := NewServer(fakeProgress{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerProgressReflectsSnapshot(t *testing.T) {
	t.Parallel()

	snap := aggregator.Snapshot{Total: 10, Completed: 4, LedgerErrors: 1, FinishedWorkers: 1, Workers: 3}
	server := NewServer(fakeProgress{snap: snap, ok: true}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(10), body["total"])
	assert.Equal(t, float64(4), body["completed"])
	assert.Equal(t, float64(1), body["ledger_errors"])
	assert.Equal(t, true, body["running"])
}

func TestServerProgressBeforeStart(t *testing.T) {
	t.Parallel()

	server := NewServer(fakeProgress{}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)
}

func TestServerMetricsExposesCollectors(t *testing.T) {
	t.Parallel()

	metrics.ObserveEnqueued("loj")
	server := NewServer(fakeProgress{}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "statement_tasks_enqueued_total"))
}

func TestServerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	server := NewServer(fakeProgress{}, nil)
	server.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	server := NewServer(fakeProgress{}, nil)
	go func() { done <- server.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
