package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	xaerrors "github.com/devrev/pairdb/txcoordinator/internal/errors"
	"github.com/devrev/pairdb/txcoordinator/internal/metrics"
	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"github.com/devrev/pairdb/txcoordinator/internal/storage/logfile"
	"go.uber.org/zap"
)

const (
	DefaultSwitchThreshold = 8 * 1024 * 1024
	DefaultSwitchInterval  = 60 * time.Second
	DefaultFilePrefix      = "txlog"
	DefaultIdentifier      = "txcoordinator"
	DefaultMajorVersion    = 1
	DefaultMinorVersion    = 0
)

// LogState describes the logical state of the file pair
type LogState int32

const (
	StateNormal LogState = iota
	StateRotating
	// StateRecovered is reported until the first rotation after startup
	// completed an interrupted switch.
	StateRecovered
)

func (s LogState) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateRotating:
		return "ROTATING"
	case StateRecovered:
		return "RECOVERED"
	default:
		return fmt.Sprintf("LogState(%d)", int32(s))
	}
}

// LoggingConfig holds transaction log configuration
type LoggingConfig struct {
	Directory    string
	FilePrefix   string
	Identifier   string
	MajorVersion uint16
	MinorVersion uint16

	// Rotation runs once the master grew by at least SwitchThreshold bytes
	// since the previous rotation, checked every SwitchInterval.
	SwitchThreshold int64
	SwitchInterval  time.Duration

	// Optimized defers flushing to rotation and shutdown
	Optimized bool

	CompactionBatchSize int
}

// DefaultLoggingConfig returns the default configuration rooted at dir
func DefaultLoggingConfig(dir string) *LoggingConfig {
	return &LoggingConfig{
		Directory:           dir,
		FilePrefix:          DefaultFilePrefix,
		Identifier:          DefaultIdentifier,
		MajorVersion:        DefaultMajorVersion,
		MinorVersion:        DefaultMinorVersion,
		SwitchThreshold:     DefaultSwitchThreshold,
		SwitchInterval:      DefaultSwitchInterval,
		CompactionBatchSize: DefaultCompactionBatchSize,
	}
}

// DiskGuard rejects a write that would not fit on the log volume
type DiskGuard interface {
	CheckBeforeWrite(estimatedBytes uint64) error
}

// Visitor receives log records in file order during Traversal
type Visitor func(rec model.LogRecord) error

// LoggingOption configures optional LoggingService collaborators
type LoggingOption func(*LoggingService)

// WithMetrics records log activity on m
func WithMetrics(m *metrics.Metrics) LoggingOption {
	return func(s *LoggingService) { s.metrics = m }
}

// WithCompactor replaces the identity compactor used during rotation
func WithCompactor(c Compactor) LoggingOption {
	return func(s *LoggingService) {
		if c != nil {
			s.compactor = c
		}
	}
}

// WithDiskGuard checks free space before each rotation copy
func WithDiskGuard(g DiskGuard) LoggingOption {
	return func(s *LoggingService) { s.disk = g }
}

// WithoutRotationTask skips starting the background rotation goroutine.
// Rotation then only happens through Rotate.
func WithoutRotationTask() LoggingOption {
	return func(s *LoggingService) { s.noTask = true }
}

// LogStats is a point-in-time view of the file pair
type LogStats struct {
	State       LogState
	MasterPath  string
	SlavePath   string
	MasterBytes int64
	SlaveBytes  int64
	Rotations   int64
}

// LoggingService is the durable transaction log: two files, one MASTER
// receiving appends and one SLAVE used as the compaction target on rotation.
type LoggingService struct {
	config    *LoggingConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
	compactor Compactor
	disk      DiskGuard
	noTask    bool

	// mu serializes appends and the sync+swap. swapMu keeps traversal and
	// rotation apart without blocking appends made by a visitor.
	mu     sync.Mutex
	swapMu sync.RWMutex
	master *logfile.File
	slave  *logfile.File
	closed bool

	state     atomic.Int32
	rotations atomic.Int64
	lastEnd   int64

	trigger     chan struct{}
	stopChan    chan struct{}
	wg          sync.WaitGroup
	releaseOnce sync.Once
}

// NewLoggingService opens the log pair in cfg.Directory, repairing an
// interrupted switch if needed, and starts the rotation task.
func NewLoggingService(cfg *LoggingConfig, logger *zap.Logger, opts ...LoggingOption) (*LoggingService, error) {
	if err := validateLoggingConfig(cfg); err != nil {
		return nil, err
	}

	s := &LoggingService{
		config:    cfg,
		logger:    logger,
		compactor: IdentityCompactor{},
		trigger:   make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, xaerrors.LogIOFailed(fmt.Sprintf("failed to create log directory %s", cfg.Directory), err)
	}

	if err := s.initialize(); err != nil {
		return nil, err
	}

	s.lastEnd = s.master.EndIndex()
	s.metrics.SetMasterBytes(s.master.DataSize())

	if !s.noTask {
		s.wg.Add(1)
		go s.rotationLoop()
	}

	s.logger.Info("Transaction log opened",
		zap.String("master", s.master.Path()),
		zap.String("slave", s.slave.Path()),
		zap.Int64("master_bytes", s.master.DataSize()),
		zap.Stringer("state", s.State()),
		zap.Bool("optimized", cfg.Optimized),
		zap.Int("compaction_version", s.compactor.Version()))

	return s, nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	if cfg == nil {
		return xaerrors.InvalidArgument("logging config is required", nil)
	}
	if cfg.Directory == "" {
		return xaerrors.InvalidArgument("log directory is required", nil)
	}
	if cfg.FilePrefix == "" {
		return xaerrors.InvalidArgument("log file prefix is required", nil)
	}
	if cfg.SwitchThreshold <= 0 {
		return xaerrors.InvalidArgument("switch threshold must be positive", nil)
	}
	if cfg.SwitchInterval <= 0 {
		return xaerrors.InvalidArgument("switch interval must be positive", nil)
	}
	if cfg.CompactionBatchSize <= 0 {
		cfg.CompactionBatchSize = DefaultCompactionBatchSize
	}
	return nil
}

// LogFilePaths returns the two file paths used for prefix in dir
func LogFilePaths(dir, prefix string) (string, string) {
	return filepath.Join(dir, prefix+"1.log"), filepath.Join(dir, prefix+"2.log")
}

func (s *LoggingService) fileOptions() logfile.Options {
	return logfile.Options{
		MajorVersion: s.config.MajorVersion,
		MinorVersion: s.config.MinorVersion,
		Identifier:   s.config.Identifier,
	}
}

func (s *LoggingService) initialize() error {
	firstPath, secondPath := LogFilePaths(s.config.Directory, s.config.FilePrefix)

	first, err := logfile.Open(firstPath, s.fileOptions(), true, s.logger)
	if err != nil {
		return err
	}
	second, err := logfile.Open(secondPath, s.fileOptions(), false, s.logger)
	if err != nil {
		first.CloseQuietly()
		return err
	}
	s.metrics.RecordTruncated(first.TruncatedBytes() + second.TruncatedBytes())

	if err := s.resolveRoles(first, second); err != nil {
		first.CloseQuietly()
		second.CloseQuietly()
		return err
	}
	return nil
}

// resolveRoles picks the master from the two headers. Exactly one MASTER is
// definitive. No MASTER means a crash between demotion and promotion, and the
// single marked file finishes its promotion.
func (s *LoggingService) resolveRoles(first, second *logfile.File) error {
	firstMaster, secondMaster := first.IsMaster(), second.IsMaster()

	switch {
	case firstMaster && secondMaster:
		return xaerrors.LogCorrupted(s.config.Directory, "both log files claim the MASTER role")
	case !firstMaster && !secondMaster:
		return s.fixSwitchError(first, second)
	case firstMaster:
		s.master, s.slave = first, second
	default:
		s.master, s.slave = second, first
	}

	if err := s.master.ClearMarkedFlag(); err != nil {
		return err
	}
	if err := s.slave.ClearMarkedFlag(); err != nil {
		return err
	}
	s.state.Store(int32(StateNormal))
	return nil
}

func (s *LoggingService) fixSwitchError(first, second *logfile.File) error {
	firstMarked, secondMarked := first.IsMarked(), second.IsMarked()
	if firstMarked == secondMarked {
		return xaerrors.LogCorrupted(s.config.Directory,
			fmt.Sprintf("no MASTER and marker bits are ambiguous (first=%t, second=%t)", firstMarked, secondMarked))
	}

	next, prev := first, second
	if secondMarked {
		next, prev = second, first
	}
	if err := next.FixSwitchError(); err != nil {
		return err
	}
	// The demoted file still holds the pre-rotation records; the promoted
	// file already has every live one.
	if err := prev.Reset(); err != nil {
		return err
	}

	s.master, s.slave = next, prev
	s.state.Store(int32(StateRecovered))

	s.logger.Warn("Completed interrupted transaction log switch",
		zap.String("master", next.Path()),
		zap.String("slave", prev.Path()))
	return nil
}

// Create appends a CREATE record for the transaction of xid
func (s *LoggingService) Create(xid model.Xid, payload []byte) error {
	return s.append(model.NewCreateRecord(xid.Global, payload))
}

// Modify appends a MODIFY record for the transaction of xid
func (s *LoggingService) Modify(xid model.Xid, payload []byte) error {
	return s.append(model.NewModifyRecord(xid.Global, payload))
}

// Delete appends a DELETE tombstone for the transaction of xid
func (s *LoggingService) Delete(xid model.Xid) error {
	return s.append(model.NewDeleteRecord(xid.Global))
}

func (s *LoggingService) append(rec model.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return xaerrors.LogClosed()
	}

	n, err := s.master.Write(rec)
	if err == nil && !s.config.Optimized {
		err = s.flushFile(s.master)
	}
	s.metrics.RecordAppend(rec.Operator.String(), n, err)
	if err != nil {
		s.logger.Error("Failed to append transaction log record",
			zap.String("key", rec.Key.String()),
			zap.Stringer("operator", rec.Operator),
			zap.Error(err))
		return err
	}
	s.metrics.SetMasterBytes(s.master.DataSize())
	return nil
}

func (s *LoggingService) flushFile(f *logfile.File) error {
	start := time.Now()
	err := f.FlushImmediately()
	s.metrics.RecordFlush(time.Since(start))
	return err
}

// Traversal replays the master from its first record, calling visit once per
// record in file order. Rotation waits until traversal returns. A visitor
// error stops the replay and is returned.
func (s *LoggingService) Traversal(visit Visitor) error {
	s.swapMu.RLock()
	defer s.swapMu.RUnlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return xaerrors.LogClosed()
	}
	reader := s.master.NewReader()
	s.mu.Unlock()

	for {
		rec, ok, err := reader.NextRecord()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := visit(rec); err != nil {
			return err
		}
	}
}

// FlushImmediately forces the master to stable storage
func (s *LoggingService) FlushImmediately() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return xaerrors.LogClosed()
	}
	return s.flushFile(s.master)
}

// FireSwapImmediately wakes the rotation task without waiting for the
// interval. The threshold still applies.
func (s *LoggingService) FireSwapImmediately() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Rotate runs one sync+swap regardless of growth
func (s *LoggingService) Rotate() error {
	return s.rotate()
}

// Release stops the rotation task. A rotation already in progress completes
// before Release returns.
func (s *LoggingService) Release() {
	s.releaseOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Shutdown releases the rotation task, flushes both files and closes them
func (s *LoggingService) Shutdown() error {
	s.Release()

	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := errors.Join(s.flushFile(s.master), s.flushFile(s.slave))
	s.master.CloseQuietly()
	s.slave.CloseQuietly()

	if err != nil {
		s.logger.Error("Failed to flush transaction log on shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("Transaction log closed", zap.String("master", s.master.Path()))
	return nil
}

// State returns the logical state of the file pair
func (s *LoggingService) State() LogState {
	return LogState(s.state.Load())
}

// Stats returns sizes and paths of the file pair
func (s *LoggingService) Stats() LogStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return LogStats{
		State:       s.State(),
		MasterPath:  s.master.Path(),
		SlavePath:   s.slave.Path(),
		MasterBytes: s.master.DataSize(),
		SlaveBytes:  s.slave.DataSize(),
		Rotations:   s.rotations.Load(),
	}
}

// rotationLoop wakes every SwitchInterval or on FireSwapImmediately and
// rotates once the master has grown past SwitchThreshold.
func (s *LoggingService) rotationLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.config.SwitchInterval)
	defer timer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		// Release wins over a pending tick
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.checkAndRotate()
		timer.Reset(s.config.SwitchInterval)
	}
}

func (s *LoggingService) checkAndRotate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	growth := s.master.EndIndex() - s.lastEnd
	s.mu.Unlock()

	if growth < s.config.SwitchThreshold {
		return
	}

	s.logger.Info("Rotating transaction log",
		zap.Int64("growth_bytes", growth),
		zap.Int64("threshold", s.config.SwitchThreshold))

	if err := s.rotate(); err != nil {
		// Retried on the next cycle
		s.logger.Error("Transaction log rotation failed", zap.Error(err))
	}
}

func (s *LoggingService) rotate() error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return xaerrors.LogClosed()
	}

	start := time.Now()
	if s.disk != nil {
		if err := s.disk.CheckBeforeWrite(uint64(s.master.DataSize())); err != nil {
			s.metrics.RecordRotation("skipped", time.Since(start), 0, 0)
			return err
		}
	}

	prevState := s.State()
	s.state.Store(int32(StateRotating))

	copied, dropped, err := s.syncMasterAndSlave()
	if err == nil {
		err = s.swapMasterAndSlave()
	}
	if err != nil {
		s.state.Store(int32(prevState))
		s.metrics.RecordRotation("error", time.Since(start), copied, dropped)
		return xaerrors.RotateFailed("failed to rotate transaction log", err)
	}

	s.state.Store(int32(StateNormal))
	s.lastEnd = s.master.EndIndex()
	s.rotations.Add(1)
	s.metrics.RecordRotation("ok", time.Since(start), copied, dropped)
	s.metrics.SetMasterBytes(s.master.DataSize())

	s.logger.Info("Transaction log rotated",
		zap.String("master", s.master.Path()),
		zap.Int64("master_bytes", s.master.DataSize()),
		zap.Int("records_copied", copied),
		zap.Int("records_dropped", dropped),
		zap.Int("compaction_version", s.compactor.Version()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// syncMasterAndSlave copies every record whose key has no DELETE in the
// master into the emptied slave, batch by batch through the compactor.
// Must be called with mu held.
func (s *LoggingService) syncMasterAndSlave() (copied, dropped int, err error) {
	if err := s.slave.Reset(); err != nil {
		return 0, 0, err
	}

	tombstones := make(map[model.GlobalTransactionID]struct{})
	reader := s.master.NewReader()
	for {
		rec, ok, err := reader.NextRecord()
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			break
		}
		if rec.Operator == model.OperatorDelete {
			tombstones[rec.Key] = struct{}{}
		}
	}

	batch := make([]model.LogRecord, 0, min(s.config.CompactionBatchSize, 1024))
	writeBatch := func() error {
		out, err := s.compactor.Compact(batch)
		if err != nil {
			return fmt.Errorf("compaction failed: %w", err)
		}
		for _, rec := range out {
			if _, err := s.slave.Write(rec); err != nil {
				return err
			}
			copied++
		}
		batch = batch[:0]
		return nil
	}

	reader.Rewind()
	for {
		rec, ok, err := reader.NextRecord()
		if err != nil {
			return copied, dropped, err
		}
		if !ok {
			break
		}
		if _, deleted := tombstones[rec.Key]; deleted {
			dropped++
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= s.config.CompactionBatchSize {
			if err := writeBatch(); err != nil {
				return copied, dropped, err
			}
		}
	}
	if len(batch) > 0 {
		if err := writeBatch(); err != nil {
			return copied, dropped, err
		}
	}

	// The copy must be durable before the slave is marked, whatever the
	// flush policy.
	return copied, dropped, s.flushFile(s.slave)
}

// Role transitions of the swap, replaced in tests to inject failures
var (
	demoteFile  = (*logfile.File).SwitchToSlave
	promoteFile = (*logfile.File).SwitchToMaster
)

// swapMasterAndSlave promotes the synced slave. The marker is persisted
// first so a crash at any later step is resolved by fixSwitchError.
// Must be called with mu held.
func (s *LoggingService) swapMasterAndSlave() error {
	if err := s.slave.MarkAsMaster(); err != nil {
		return err
	}
	if err := demoteFile(s.master); err != nil {
		s.abortSwitch()
		return err
	}
	if err := promoteFile(s.slave); err != nil {
		s.abortSwitch()
		return err
	}

	s.master, s.slave = s.slave, s.master

	// Every live record now lives in the new master
	if err := s.slave.Reset(); err != nil {
		s.logger.Warn("Failed to reset demoted log file", zap.String("path", s.slave.Path()), zap.Error(err))
	}
	return nil
}

// abortSwitch puts the old master back on disk and clears the slave's marker
// so appends keep landing in the file startup will pick. A failed demotion
// may still have reached the disk, so MASTER is rewritten either way.
// Must be called with mu held.
func (s *LoggingService) abortSwitch() {
	if err := s.master.SwitchToMaster(); err != nil {
		s.logger.Error("Failed to restore master role after aborted switch",
			zap.String("path", s.master.Path()), zap.Error(err))
	}
	if err := s.slave.ClearMarkedFlag(); err != nil {
		s.logger.Warn("Failed to clear marker after aborted switch",
			zap.String("path", s.slave.Path()), zap.Error(err))
	}
}
