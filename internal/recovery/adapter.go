package recovery

import (
	"context"
	"time"

	xaerrors "github.com/devrev/pairdb/txcoordinator/internal/errors"
	"github.com/devrev/pairdb/txcoordinator/internal/metrics"
	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"go.uber.org/zap"
)

const (
	opMarkPrepared = "mark_prepared"
	opForget       = "forget"
	opRecover      = "recover"
	opLookup       = "lookup"

	outcomeOK            = "ok"
	outcomeNotConfigured = "not_configured"
	outcomeNotFound      = "not_found"
	outcomeRMError       = "rm_error"
	outcomeRMFail        = "rm_fail"
)

// Adapter maintains the pending-branch table of one resource manager and
// answers recovery queries from it.
type Adapter struct {
	resourceID string
	table      BranchTable
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewAdapter creates a recovery adapter for resourceID backed by table
func NewAdapter(resourceID string, table BranchTable, logger *zap.Logger, m *metrics.Metrics) *Adapter {
	return &Adapter{
		resourceID: resourceID,
		table:      table,
		logger:     logger.With(zap.String("resource_id", resourceID)),
		metrics:    m,
	}
}

// ResourceID returns the resource the adapter serves
func (a *Adapter) ResourceID() string {
	return a.resourceID
}

// MarkPrepared records xid as pending
func (a *Adapter) MarkPrepared(ctx context.Context, xid model.Xid) error {
	start := time.Now()
	err := a.table.Insert(ctx, model.NewPendingBranch(xid, a.resourceID))
	if err != nil {
		return a.classify(ctx, opMarkPrepared, start, err)
	}
	a.observe(opMarkPrepared, outcomeOK, start)
	return nil
}

// Forget removes every listed branch in one local transaction: either all
// identifiers are gone afterwards or none are.
func (a *Adapter) Forget(ctx context.Context, xids ...model.Xid) error {
	if len(xids) == 0 {
		return nil
	}

	identifiers := make([]string, len(xids))
	for i, xid := range xids {
		identifiers[i] = xid.Identifier()
	}

	start := time.Now()
	if err := a.table.DeleteBatch(ctx, identifiers); err != nil {
		return a.classify(ctx, opForget, start, err)
	}
	a.observe(opForget, outcomeOK, start)
	return nil
}

// ForgetQuietly forgets xids, logging instead of returning a failure
func (a *Adapter) ForgetQuietly(ctx context.Context, xids ...model.Xid) {
	if err := a.Forget(ctx, xids...); err != nil {
		a.logger.Warn("Failed to forget pending branches",
			zap.Int("count", len(xids)),
			zap.Error(err))
	}
}

// Recover returns the Xid of every pending row. Rows stored without a
// distinct branch qualifier come back as transaction-level Xids.
func (a *Adapter) Recover(ctx context.Context) ([]model.Xid, error) {
	start := time.Now()
	rows, err := a.table.List(ctx)
	if err != nil {
		return nil, a.classify(ctx, opRecover, start, err)
	}

	xids := make([]model.Xid, 0, len(rows))
	for _, row := range rows {
		xid, err := row.Xid()
		if err != nil {
			a.logger.Warn("Skipping malformed pending branch row",
				zap.String("identifier", row.Identifier),
				zap.Error(err))
			continue
		}
		xids = append(xids, xid)
	}
	a.observe(opRecover, outcomeOK, start)
	return xids, nil
}

// IsBranchResolved reports whether xid has no pending row left. A retried
// commit or rollback against a resolved branch is a no-op.
func (a *Adapter) IsBranchResolved(ctx context.Context, xid model.Xid) (bool, error) {
	start := time.Now()
	found, err := a.table.Exists(ctx, xid.Identifier())
	if err != nil {
		if cerr := a.classify(ctx, opLookup, start, err); cerr != nil {
			return false, cerr
		}
		// No table, nothing was ever pending here
		return true, nil
	}
	a.observe(opLookup, outcomeOK, start)
	return !found, nil
}

// Recoverable returns nil when xid is pending and a NoTransaction error when
// it is not.
func (a *Adapter) Recoverable(ctx context.Context, xid model.Xid) error {
	resolved, err := a.IsBranchResolved(ctx, xid)
	if err != nil {
		return err
	}
	if resolved {
		return xaerrors.NoTransaction(xid.Identifier())
	}
	return nil
}

// classify turns a failed table operation into the error the coordinator
// sees. The table is probed only here: a missing table means the resource
// manager does not use logged recovery and the failure is dropped.
func (a *Adapter) classify(ctx context.Context, op string, start time.Time, cause error) error {
	state, perr := a.table.Probe(ctx)

	switch state {
	case TableNotFound:
		a.observe(op, outcomeNotConfigured, start)
		a.logger.Debug("Pending-branch table not present, skipping",
			zap.String("operation", op),
			zap.NamedError("cause", cause))
		return nil

	case TableExists:
		a.observe(op, outcomeRMError, start)
		a.logger.Error("Pending-branch table operation failed",
			zap.String("operation", op),
			zap.Error(cause))
		return xaerrors.RMError(a.resourceID, op, cause)

	default:
		a.observe(op, outcomeRMFail, start)
		a.logger.Warn("Resource manager unavailable",
			zap.String("operation", op),
			zap.Error(cause),
			zap.NamedError("probe_error", perr))
		return xaerrors.RMFail(a.resourceID, op, cause)
	}
}

func (a *Adapter) observe(op, outcome string, start time.Time) {
	a.metrics.RecordRecoveryCall(a.resourceID, op, outcome, time.Since(start))
}

// Ping checks that the resource manager is reachable
func (a *Adapter) Ping(ctx context.Context) error {
	return a.table.Ping(ctx)
}

// Close releases the table's connections
func (a *Adapter) Close() error {
	return a.table.Close()
}
