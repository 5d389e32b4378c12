package diskmanager

import (
	"fmt"
	"sync"
	"time"

	xaerrors "github.com/devrev/pairdb/txcoordinator/internal/errors"
	"go.uber.org/zap"
)

// DiskManager watches the free space of the log directory so rotation never
// starts a copy that cannot fit.
type DiskManager struct {
	dir           string
	logger        *zap.Logger
	statfs        func(dir string) (Usage, error)
	checkInterval time.Duration

	// Start warning at this usage percentage
	warningThreshold float64

	mu        sync.Mutex
	lastCheck time.Time
	cached    Usage
}

// Usage is one filesystem sample
type Usage struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// UsagePercent returns the used share of the filesystem in percent
func (u Usage) UsagePercent() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	return float64(u.TotalBytes-u.AvailableBytes) / float64(u.TotalBytes) * 100.0
}

// Config holds configuration for the disk manager
type Config struct {
	Dir              string
	CheckInterval    time.Duration
	WarningThreshold float64
}

// DefaultConfig returns default disk manager configuration
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:              dir,
		CheckInterval:    10 * time.Second,
		WarningThreshold: 85.0,
	}
}

// NewDiskManager creates a disk manager for cfg.Dir
func NewDiskManager(cfg *Config, logger *zap.Logger) (*DiskManager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	return &DiskManager{
		dir:              cfg.Dir,
		logger:           logger,
		statfs:           statfs,
		checkInterval:    cfg.CheckInterval,
		warningThreshold: cfg.WarningThreshold,
	}, nil
}

// Dir returns the watched directory
func (dm *DiskManager) Dir() string {
	return dm.dir
}

// CheckBeforeWrite returns a DiskFull error when fewer than estimatedBytes are available
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	usage, err := dm.Usage()
	if err != nil {
		// An unreadable filesystem is reported by the write itself.
		dm.logger.Warn("Disk space check failed", zap.String("dir", dm.dir), zap.Error(err))
		return nil
	}
	if estimatedBytes > usage.AvailableBytes {
		return xaerrors.DiskFull(dm.dir, estimatedBytes, usage.AvailableBytes)
	}
	return nil
}

// Usage returns the cached sample, refreshing it when stale
func (dm *DiskManager) Usage() (Usage, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if !dm.lastCheck.IsZero() && time.Since(dm.lastCheck) <= dm.checkInterval {
		return dm.cached, nil
	}
	return dm.checkDiskSpace()
}

// ForceCheck samples the filesystem immediately
func (dm *DiskManager) ForceCheck() (Usage, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.checkDiskSpace()
}

// checkDiskSpace must be called with mu held
func (dm *DiskManager) checkDiskSpace() (Usage, error) {
	usage, err := dm.statfs(dm.dir)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	dm.cached = usage
	dm.lastCheck = time.Now()

	if pct := usage.UsagePercent(); pct >= dm.warningThreshold {
		dm.logger.Warn("Disk usage warning",
			zap.String("dir", dm.dir),
			zap.Float64("usage_percent", pct),
			zap.Uint64("available_bytes", usage.AvailableBytes),
			zap.Float64("warning_threshold", dm.warningThreshold))
	}
	return usage, nil
}
