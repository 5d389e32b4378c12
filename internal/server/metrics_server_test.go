package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/pairdb/txcoordinator/internal/health"
	"github.com/devrev/pairdb/txcoordinator/internal/metrics"
	"github.com/devrev/pairdb/txcoordinator/internal/storage/diskmanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubDisk struct {
	dir   string
	usage diskmanager.Usage
}

func (d stubDisk) Dir() string                      { return d.dir }
func (d stubDisk) Usage() (diskmanager.Usage, error) { return d.usage, nil }

func newTestServer(t *testing.T, available uint64) (*MetricsServer, *health.Checker) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)
	m.RecordRotation("ok", 0, 1, 0)

	disk := stubDisk{dir: t.TempDir(), usage: diskmanager.Usage{TotalBytes: 100, AvailableBytes: available}}
	checker := health.NewChecker(health.DefaultConfig("node-1"), disk, nil, m, zap.NewNop())

	return NewMetricsServer(&MetricsServerConfig{Port: 0}, reg, checker, zap.NewNop()), checker
}

func TestMetricsServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, 50)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "txcoord_rotation")
}

func TestMetricsServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, 50)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestMetricsServer_Ready(t *testing.T) {
	t.Run("ready after checks pass", func(t *testing.T) {
		srv, checker := newTestServer(t, 50)
		checker.RunChecks(context.Background())

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var report health.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.True(t, report.Ready)
		assert.Equal(t, health.StatusHealthy, report.Status)
	})

	t.Run("not ready before the first check", func(t *testing.T) {
		srv, _ := newTestServer(t, 50)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("not ready when disk is full", func(t *testing.T) {
		srv, checker := newTestServer(t, 1)
		checker.RunChecks(context.Background())

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestMetricsServer_StartStop(t *testing.T) {
	srv, _ := newTestServer(t, 50)

	require.NoError(t, srv.Start())
	assert.NoError(t, srv.Stop(context.Background()))
}
