package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the transaction coordinator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Transaction log metrics
	LogAppendsTotal   *prometheus.CounterVec
	LogAppendBytes    prometheus.Counter
	LogFlushesTotal   prometheus.Counter
	LogFlushDuration  prometheus.Histogram
	LogMasterBytes    prometheus.Gauge
	LogTruncatedBytes prometheus.Counter

	// Rotation metrics
	RotationsTotal         *prometheus.CounterVec
	RotationDuration       prometheus.Histogram
	RotationRecordsCopied  prometheus.Counter
	RotationRecordsDropped prometheus.Counter

	// Recovery metrics
	RecoveryCallsTotal   *prometheus.CounterVec
	RecoveryCallDuration *prometheus.HistogramVec
	InDoubtBranches      *prometheus.GaugeVec

	// System metrics
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with reg
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		LogAppendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "txcoord",
			Subsystem:   "log",
			Name:        "appends_total",
			Help:        "Total number of records appended to the transaction log",
			ConstLabels: labels,
		}, []string{"operator", "result"}),
		LogAppendBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "txcoord",
			Subsystem:   "log",
			Name:        "append_bytes_total",
			Help:        "Total bytes appended to the transaction log",
			ConstLabels: labels,
		}),
		LogFlushesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "txcoord",
			Subsystem:   "log",
			Name:        "flushes_total",
			Help:        "Total number of durable flushes",
			ConstLabels: labels,
		}),
		LogFlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "txcoord",
			Subsystem:   "log",
			Name:        "flush_duration_seconds",
			Help:        "Histogram of durable flush latencies",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		}),
		LogMasterBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "txcoord",
			Subsystem:   "log",
			Name:        "master_bytes",
			Help:        "Record bytes currently stored in the master log file",
			ConstLabels: labels,
		}),
		LogTruncatedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "txcoord",
			Subsystem:   "log",
			Name:        "truncated_bytes_total",
			Help:        "Torn bytes discarded from log tails at startup",
			ConstLabels: labels,
		}),
		RotationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "txcoord",
			Subsystem:   "rotation",
			Name:        "runs_total",
			Help:        "Total number of rotation attempts by result",
			ConstLabels: labels,
		}, []string{"result"}),
		RotationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "txcoord",
			Subsystem:   "rotation",
			Name:        "duration_seconds",
			Help:        "Histogram of sync-and-swap durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		RotationRecordsCopied: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "txcoord",
			Subsystem:   "rotation",
			Name:        "records_copied_total",
			Help:        "Live records copied to the standby file",
			ConstLabels: labels,
		}),
		RotationRecordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "txcoord",
			Subsystem:   "rotation",
			Name:        "records_dropped_total",
			Help:        "Tombstoned or coalesced records dropped by rotation",
			ConstLabels: labels,
		}),
		RecoveryCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "txcoord",
			Subsystem:   "recovery",
			Name:        "calls_total",
			Help:        "Pending-branch table operations by resource, operation and outcome",
			ConstLabels: labels,
		}, []string{"resource_id", "operation", "outcome"}),
		RecoveryCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "txcoord",
			Subsystem:   "recovery",
			Name:        "call_duration_seconds",
			Help:        "Pending-branch table operation latencies",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"resource_id", "operation"}),
		InDoubtBranches: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "txcoord",
			Subsystem:   "recovery",
			Name:        "in_doubt_branches",
			Help:        "Pending branches found by the last recovery scan",
			ConstLabels: labels,
		}, []string{"resource_id", "classification"}),
		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "txcoord",
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Available bytes in the log directory",
			ConstLabels: labels,
		}),
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "txcoord",
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage percentage of the log directory",
			ConstLabels: labels,
		}),
	}
}

// RecordAppend records one log append
func (m *Metrics) RecordAppend(operator string, bytes int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.LogAppendsTotal.WithLabelValues(operator, "error").Inc()
		return
	}
	m.LogAppendsTotal.WithLabelValues(operator, "ok").Inc()
	m.LogAppendBytes.Add(float64(bytes))
}

// RecordFlush records a durable flush
func (m *Metrics) RecordFlush(duration time.Duration) {
	if m == nil {
		return
	}
	m.LogFlushesTotal.Inc()
	m.LogFlushDuration.Observe(duration.Seconds())
}

// SetMasterBytes updates the master size gauge
func (m *Metrics) SetMasterBytes(n int64) {
	if m == nil {
		return
	}
	m.LogMasterBytes.Set(float64(n))
}

// RecordTruncated records torn tail bytes discarded at startup
func (m *Metrics) RecordTruncated(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.LogTruncatedBytes.Add(float64(n))
}

// RecordRotation records the outcome of one rotation attempt
func (m *Metrics) RecordRotation(result string, duration time.Duration, copied, dropped int) {
	if m == nil {
		return
	}
	m.RotationsTotal.WithLabelValues(result).Inc()
	if result != "ok" {
		return
	}
	m.RotationDuration.Observe(duration.Seconds())
	m.RotationRecordsCopied.Add(float64(copied))
	m.RotationRecordsDropped.Add(float64(dropped))
}

// RecordRecoveryCall records one pending-branch table operation
func (m *Metrics) RecordRecoveryCall(resourceID, operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RecoveryCallsTotal.WithLabelValues(resourceID, operation, outcome).Inc()
	m.RecoveryCallDuration.WithLabelValues(resourceID, operation).Observe(duration.Seconds())
}

// SetInDoubt records the branches a recovery scan classified for one resource
func (m *Metrics) SetInDoubt(resourceID, classification string, count int) {
	if m == nil {
		return
	}
	m.InDoubtBranches.WithLabelValues(resourceID, classification).Set(float64(count))
}

// UpdateDiskStats updates disk metrics for the log directory
func (m *Metrics) UpdateDiskStats(availableBytes uint64, usagePercent float64) {
	if m == nil {
		return
	}
	m.DiskAvailableBytes.Set(float64(availableBytes))
	m.DiskUsagePercent.Set(usagePercent)
}
