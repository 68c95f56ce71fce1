package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imedwei/railway-object-storage/internal/health"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_Endpoints(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	s := New(DefaultConfig(), testLogger(), func(context.Context) bool { return ready.Load() })

	statuses := []health.ProviderStatus{
		{Provider: "local", Status: health.StatusHealthy, ResponseTime: time.Millisecond, LastChecked: time.Now()},
		{Provider: "s3", Status: health.StatusUnhealthy, Error: "timeout", LastChecked: time.Now()},
	}
	s.RegisterHealthCheck("storage", func(context.Context) health.Check {
		return health.FromProviderStatuses(statuses)
	})

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	t.Run("live", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/live")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("health degraded", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Status health.Status           `json:"status"`
			Checks map[string]health.Check `json:"checks"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, health.StatusDegraded, body.Status)
		assert.Contains(t, body.Checks["storage"].Details, "s3")
	})

	t.Run("ready", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		ready.Store(false)
		resp2, err := http.Get(srv.URL + "/ready")
		require.NoError(t, err)
		defer resp2.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(body), "go_goroutines"))
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	s := New(cfg, testLogger(), nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}
