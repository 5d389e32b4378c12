package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/metrics"
	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BranchScanner lists the branches a resource manager still holds prepared
type BranchScanner interface {
	ResourceID() string
	Recover(ctx context.Context) ([]model.Xid, error)
}

// Classification tells the transaction manager what to do with a branch
// found pending after restart.
type Classification string

const (
	// InDoubtLogged branches belong to a transaction the log still carries
	// an archive for; the transaction manager resumes it.
	InDoubtLogged Classification = "in_doubt_logged"
	// Orphaned branches have no archive: no decision was ever logged, so
	// the transaction is presumed aborted.
	Orphaned Classification = "orphaned"
)

// RecoveredBranch is one pending branch found during a recovery scan
type RecoveredBranch struct {
	ResourceID     string
	Xid            model.Xid
	Classification Classification
}

// RecoveryReport is the outcome of one recovery scan
type RecoveryReport struct {
	// Archives holds the latest payload of every transaction still live in
	// the log.
	Archives map[model.GlobalTransactionID][]byte
	Branches []RecoveredBranch
	// Errors holds the scan failure of each resource that could not be read
	Errors   map[string]error
	Duration time.Duration
}

// Filter returns the branches with classification c
func (r *RecoveryReport) Filter(c Classification) []RecoveredBranch {
	var out []RecoveredBranch
	for _, b := range r.Branches {
		if b.Classification == c {
			out = append(out, b)
		}
	}
	return out
}

// RecoveryConfig holds recovery scan configuration
type RecoveryConfig struct {
	ScanTimeout time.Duration
	Parallelism int
}

// DefaultRecoveryConfig returns the default recovery configuration
func DefaultRecoveryConfig() *RecoveryConfig {
	return &RecoveryConfig{
		ScanTimeout: 30 * time.Second,
		Parallelism: 4,
	}
}

// RecoveryService reconciles the transaction log with the branches the
// resource managers still hold after a restart.
type RecoveryService struct {
	log      *LoggingService
	scanners []BranchScanner
	config   *RecoveryConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewRecoveryService creates a recovery service over log and scanners
func NewRecoveryService(
	log *LoggingService,
	scanners []BranchScanner,
	cfg *RecoveryConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *RecoveryService {
	if cfg == nil {
		cfg = DefaultRecoveryConfig()
	}
	return &RecoveryService{
		log:      log,
		scanners: scanners,
		config:   cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Run replays the log and scans every resource. A resource that cannot be
// scanned is reported in the result and never aborts the other scans; only
// an unreadable log fails the run.
func (s *RecoveryService) Run(ctx context.Context) (*RecoveryReport, error) {
	start := time.Now()
	s.logger.Info("Starting transaction recovery", zap.Int("resources", len(s.scanners)))

	archives, err := s.replay()
	if err != nil {
		s.logger.Error("Failed to replay transaction log", zap.Error(err))
		return nil, err
	}

	report := &RecoveryReport{
		Archives: archives,
		Errors:   make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if s.config.Parallelism > 0 {
		g.SetLimit(s.config.Parallelism)
	}

	for _, scanner := range s.scanners {

		g.Go(func() error {
			branches, err := s.scan(gctx, scanner, archives)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors[scanner.ResourceID()] = err
				return nil // Don't fail the errgroup
			}
			report.Branches = append(report.Branches, branches...)
			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(report.Branches, func(i, j int) bool {
		a, b := report.Branches[i], report.Branches[j]
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		return a.Xid.Identifier() < b.Xid.Identifier()
	})
	report.Duration = time.Since(start)

	s.logger.Info("Transaction recovery completed",
		zap.Int("live_transactions", len(archives)),
		zap.Int("in_doubt_logged", len(report.Filter(InDoubtLogged))),
		zap.Int("orphaned", len(report.Filter(Orphaned))),
		zap.Int("failed_resources", len(report.Errors)),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// replay folds the log into the latest payload per transaction
func (s *RecoveryService) replay() (map[model.GlobalTransactionID][]byte, error) {
	archives := make(map[model.GlobalTransactionID][]byte)
	err := s.log.Traversal(func(rec model.LogRecord) error {
		switch rec.Operator {
		case model.OperatorDelete:
			delete(archives, rec.Key)
		default:
			archives[rec.Key] = rec.Payload
		}
		return nil
	})
	return archives, err
}

func (s *RecoveryService) scan(
	ctx context.Context,
	scanner BranchScanner,
	archives map[model.GlobalTransactionID][]byte,
) ([]RecoveredBranch, error) {
	if s.config.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ScanTimeout)
		defer cancel()
	}

	resourceID := scanner.ResourceID()
	xids, err := scanner.Recover(ctx)
	if err != nil {
		s.logger.Warn("Recovery scan failed",
			zap.String("resource_id", resourceID),
			zap.Error(err))
		return nil, err
	}

	branches := make([]RecoveredBranch, 0, len(xids))
	counts := map[Classification]int{InDoubtLogged: 0, Orphaned: 0}
	for _, xid := range xids {
		class := Orphaned
		if _, logged := archives[xid.Global]; logged {
			class = InDoubtLogged
		}
		counts[class]++
		branches = append(branches, RecoveredBranch{
			ResourceID:     resourceID,
			Xid:            xid,
			Classification: class,
		})
	}

	for class, n := range counts {
		s.metrics.SetInDoubt(resourceID, string(class), n)
	}
	s.logger.Info("Recovery scan completed",
		zap.String("resource_id", resourceID),
		zap.Int("in_doubt_logged", counts[InDoubtLogged]),
		zap.Int("orphaned", counts[Orphaned]))

	return branches, nil
}
