// Package health tracks liveness and readiness of the coordinator process.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/metrics"
	"github.com/devrev/pairdb/txcoordinator/internal/storage/diskmanager"
	"go.uber.org/zap"
)

// Status is the overall health of the process
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check result states
const (
	CheckHealthy  = "healthy"
	CheckWarning  = "warning"
	CheckCritical = "critical"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is a snapshot of the last round of checks
type Report struct {
	NodeID    string                 `json:"node_id"`
	Status    Status                 `json:"status"`
	Ready     bool                   `json:"ready"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// DiskSampler reports free space of the log directory
type DiskSampler interface {
	Dir() string
	Usage() (diskmanager.Usage, error)
}

// Pinger is a recovery table that can be reached over the network
type Pinger interface {
	ResourceID() string
	Ping(ctx context.Context) error
}

// Config holds configuration for health checks
type Config struct {
	NodeID        string
	CheckInterval time.Duration
	PingTimeout   time.Duration
	// Disk usage percentages for the warning and critical states
	WarningPercent  float64
	CriticalPercent float64
}

// DefaultConfig returns the default health check configuration
func DefaultConfig(nodeID string) *Config {
	return &Config{
		NodeID:          nodeID,
		CheckInterval:   10 * time.Second,
		PingTimeout:     2 * time.Second,
		WarningPercent:  90,
		CriticalPercent: 95,
	}
}

// Checker runs periodic health checks over the log directory and the
// recovery tables.
type Checker struct {
	cfg     *Config
	disk    DiskSampler
	pingers []Pinger
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	status      Status
	checks      map[string]CheckResult
	readinessOK bool
	draining    bool
}

// NewChecker creates a new health checker
func NewChecker(cfg *Config, disk DiskSampler, pingers []Pinger, m *metrics.Metrics, logger *zap.Logger) *Checker {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	return &Checker{
		cfg:     cfg,
		disk:    disk,
		pingers: pingers,
		metrics: m,
		logger:  logger,
		checks:  make(map[string]CheckResult),
		status:  StatusHealthy,
	}
}

// Start runs the checks until ctx is done
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every check once and updates the status
func (h *Checker) RunChecks(ctx context.Context) {
	results := []CheckResult{
		h.checkDiskSpace(),
		h.checkLogDirWritable(),
	}
	for _, p := range h.pingers {
		results = append(results, h.checkResource(ctx, p))
	}

	allHealthy, allReady := true, true
	for _, r := range results {
		if r.Status != CheckHealthy {
			allHealthy = false
			if r.Status == CheckCritical {
				allReady = false
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()
	for _, r := range results {
		h.checks[r.Name] = r
	}
	switch {
	case !allReady:
		h.status = StatusUnhealthy
	case !allHealthy:
		h.status = StatusDegraded
	default:
		h.status = StatusHealthy
	}
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("readiness", h.readinessOK))
}

func (h *Checker) checkDiskSpace() CheckResult {
	const name = "disk_space"

	usage, err := h.disk.Usage()
	if err != nil {
		return result(name, CheckCritical, fmt.Sprintf("Failed to stat filesystem: %v", err))
	}

	pct := usage.UsagePercent()
	h.metrics.UpdateDiskStats(usage.AvailableBytes, pct)

	switch {
	case pct > h.cfg.CriticalPercent:
		return result(name, CheckCritical, fmt.Sprintf("Disk usage critical: %.2f%%", pct))
	case pct > h.cfg.WarningPercent:
		return result(name, CheckWarning, fmt.Sprintf("Disk usage high: %.2f%%", pct))
	}
	return result(name, CheckHealthy, fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB",
		pct, float64(usage.AvailableBytes)/1024/1024/1024))
}

func (h *Checker) checkLogDirWritable() CheckResult {
	const name = "log_dir_writable"
	dir := h.disk.Dir()

	info, err := os.Stat(dir)
	if err != nil {
		return result(name, CheckCritical, fmt.Sprintf("Log directory not accessible: %v", err))
	}
	if !info.IsDir() {
		return result(name, CheckCritical, "Log path is not a directory")
	}

	probe := filepath.Join(dir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
	f, err := os.Create(probe)
	if err != nil {
		return result(name, CheckCritical, fmt.Sprintf("Cannot write to log directory: %v", err))
	}
	f.Close()
	os.Remove(probe)

	return result(name, CheckHealthy, "Log directory is accessible and writable")
}

// checkResource reports an unreachable table as a warning: the log keeps
// accepting decisions while a recovery table is down.
func (h *Checker) checkResource(ctx context.Context, p Pinger) CheckResult {
	name := "resource:" + p.ResourceID()

	ctx, cancel := context.WithTimeout(ctx, h.cfg.PingTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return result(name, CheckWarning, fmt.Sprintf("Recovery table unreachable: %v", err))
	}
	return result(name, CheckHealthy, "Recovery table reachable")
}

func result(name, status, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message, Timestamp: time.Now()}
}

// IsLive reports whether the process is responsive
func (h *Checker) IsLive() bool {
	return true
}

// IsReady reports whether the last checks passed and the process is not draining
func (h *Checker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK && !h.draining
}

// SetDraining marks the process as shutting down
func (h *Checker) SetDraining() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = true
}

// Report returns the current health snapshot
func (h *Checker) Report() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return Report{
		NodeID:    h.cfg.NodeID,
		Status:    h.status,
		Ready:     h.readinessOK && !h.draining,
		Timestamp: h.lastCheck.Unix(),
		Checks:    checks,
	}
}
