package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/metrics"
	"github.com/devrev/pairdb/txcoordinator/internal/storage/diskmanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDisk struct {
	dir   string
	usage diskmanager.Usage
	err   error
}

func (d *fakeDisk) Dir() string                      { return d.dir }
func (d *fakeDisk) Usage() (diskmanager.Usage, error) { return d.usage, d.err }

type fakePinger struct {
	id  string
	err error
}

func (p *fakePinger) ResourceID() string             { return p.id }
func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

func newChecker(t *testing.T, disk *fakeDisk, pingers ...Pinger) (*Checker, *metrics.Metrics) {
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	if disk.dir == "" {
		disk.dir = t.TempDir()
	}
	return NewChecker(DefaultConfig("node-1"), disk, pingers, m, zap.NewNop()), m
}

func TestChecker_Healthy(t *testing.T) {
	disk := &fakeDisk{usage: diskmanager.Usage{TotalBytes: 1000, AvailableBytes: 600}}
	h, m := newChecker(t, disk, &fakePinger{id: "orders-db"})

	h.RunChecks(context.Background())

	report := h.Report()
	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.Ready)
	assert.True(t, h.IsReady())
	assert.Equal(t, "node-1", report.NodeID)
	assert.Contains(t, report.Checks, "disk_space")
	assert.Contains(t, report.Checks, "log_dir_writable")
	assert.Contains(t, report.Checks, "resource:orders-db")

	assert.Equal(t, 600.0, testutil.ToFloat64(m.DiskAvailableBytes))
	assert.InDelta(t, 40.0, testutil.ToFloat64(m.DiskUsagePercent), 0.001)
}

func TestChecker_UnreachableTableDegrades(t *testing.T) {
	disk := &fakeDisk{usage: diskmanager.Usage{TotalBytes: 1000, AvailableBytes: 600}}
	h, _ := newChecker(t, disk, &fakePinger{id: "sessions", err: errors.New("dial tcp: refused")})

	h.RunChecks(context.Background())

	report := h.Report()
	assert.Equal(t, StatusDegraded, report.Status)
	assert.True(t, h.IsReady())
	assert.Equal(t, CheckWarning, report.Checks["resource:sessions"].Status)
}

func TestChecker_DiskStates(t *testing.T) {
	tests := []struct {
		name      string
		disk      *fakeDisk
		status    Status
		ready     bool
		diskState string
	}{
		{"high usage warns", &fakeDisk{usage: diskmanager.Usage{TotalBytes: 100, AvailableBytes: 8}}, StatusDegraded, true, CheckWarning},
		{"critical usage", &fakeDisk{usage: diskmanager.Usage{TotalBytes: 100, AvailableBytes: 2}}, StatusUnhealthy, false, CheckCritical},
		{"stat failure", &fakeDisk{err: errors.New("no such device")}, StatusUnhealthy, false, CheckCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newChecker(t, tt.disk)
			h.RunChecks(context.Background())

			report := h.Report()
			assert.Equal(t, tt.status, report.Status)
			assert.Equal(t, tt.ready, h.IsReady())
			assert.Equal(t, tt.diskState, report.Checks["disk_space"].Status)
		})
	}
}

func TestChecker_MissingLogDir(t *testing.T) {
	disk := &fakeDisk{dir: "/nonexistent/txlog", usage: diskmanager.Usage{TotalBytes: 100, AvailableBytes: 50}}
	h, _ := newChecker(t, disk)

	h.RunChecks(context.Background())
	assert.False(t, h.IsReady())
	assert.Equal(t, CheckCritical, h.Report().Checks["log_dir_writable"].Status)
}

func TestChecker_Draining(t *testing.T) {
	disk := &fakeDisk{usage: diskmanager.Usage{TotalBytes: 100, AvailableBytes: 50}}
	h, _ := newChecker(t, disk)

	h.RunChecks(context.Background())
	require.True(t, h.IsReady())

	h.SetDraining()
	assert.False(t, h.IsReady())
	assert.True(t, h.IsLive())
}

func TestChecker_StartStopsOnCancel(t *testing.T) {
	disk := &fakeDisk{usage: diskmanager.Usage{TotalBytes: 100, AvailableBytes: 50}}
	h, _ := newChecker(t, disk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, h.IsReady, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
