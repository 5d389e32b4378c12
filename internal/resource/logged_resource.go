package resource

import (
	"context"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"github.com/devrev/pairdb/txcoordinator/internal/recovery"
	"go.uber.org/zap"
)

// LoggedResource decorates a Manager without native recovery: prepared
// branches are recorded in the adapter's table and removed once the branch
// is finalized, and Recover answers from that table.
type LoggedResource struct {
	delegate Manager
	adapter  *recovery.Adapter
	logger   *zap.Logger
}

// NewLoggedResource wraps rm with the pending-branch table of adapter
func NewLoggedResource(rm Manager, adapter *recovery.Adapter, logger *zap.Logger) *LoggedResource {
	return &LoggedResource{
		delegate: rm,
		adapter:  adapter,
		logger:   logger.With(zap.String("resource_id", adapter.ResourceID())),
	}
}

// Unwrap returns the decorated manager
func (r *LoggedResource) Unwrap() Manager {
	return r.delegate
}

func (r *LoggedResource) Start(ctx context.Context, xid model.Xid, flags Flag) error {
	return r.delegate.Start(ctx, xid, flags)
}

func (r *LoggedResource) End(ctx context.Context, xid model.Xid, flags Flag) error {
	return r.delegate.End(ctx, xid, flags)
}

// Prepare records the branch once the delegate voted OK. A branch that
// cannot be recorded is rolled back so it never stays prepared unseen.
func (r *LoggedResource) Prepare(ctx context.Context, xid model.Xid) (Vote, error) {
	vote, err := r.delegate.Prepare(ctx, xid)
	if err != nil || vote == VoteReadOnly {
		return vote, err
	}

	if err := r.adapter.MarkPrepared(ctx, xid); err != nil {
		if rerr := r.delegate.Rollback(ctx, xid); rerr != nil {
			r.logger.Error("Failed to roll back unrecorded prepared branch",
				zap.Stringer("xid", xid),
				zap.Error(rerr))
		}
		return vote, err
	}
	return vote, nil
}

// Commit finalizes the branch. A leftover row after a successful commit is
// harmless: recovery finds the branch resolved by the backend.
func (r *LoggedResource) Commit(ctx context.Context, xid model.Xid, onePhase bool) error {
	if err := r.delegate.Commit(ctx, xid, onePhase); err != nil {
		return err
	}
	if !onePhase {
		r.adapter.ForgetQuietly(ctx, xid)
	}
	return nil
}

func (r *LoggedResource) Rollback(ctx context.Context, xid model.Xid) error {
	if err := r.delegate.Rollback(ctx, xid); err != nil {
		return err
	}
	r.adapter.ForgetQuietly(ctx, xid)
	return nil
}

func (r *LoggedResource) Forget(ctx context.Context, xid model.Xid) error {
	if err := r.delegate.Forget(ctx, xid); err != nil {
		return err
	}
	return r.adapter.Forget(ctx, xid)
}

// Recover lists the pending branches from the table. Only a scan start
// returns results.
func (r *LoggedResource) Recover(ctx context.Context, flags Flag) ([]model.Xid, error) {
	if flags != FlagNone && flags&FlagStartScan == 0 {
		return nil, nil
	}
	return r.adapter.Recover(ctx)
}

func (r *LoggedResource) IsSameRM(other Manager) bool {
	if that, ok := other.(*LoggedResource); ok {
		return r.delegate.IsSameRM(that.delegate)
	}
	return r.delegate.IsSameRM(other)
}

func (r *LoggedResource) SetTransactionTimeout(timeout time.Duration) (bool, error) {
	return r.delegate.SetTransactionTimeout(timeout)
}

func (r *LoggedResource) TransactionTimeout() (time.Duration, error) {
	return r.delegate.TransactionTimeout()
}

// IsBranchResolved reports whether the table no longer lists xid
func (r *LoggedResource) IsBranchResolved(ctx context.Context, xid model.Xid) (bool, error) {
	return r.adapter.IsBranchResolved(ctx, xid)
}

// Recoverable returns a NoTransaction error when xid is not pending
func (r *LoggedResource) Recoverable(ctx context.Context, xid model.Xid) error {
	return r.adapter.Recoverable(ctx, xid)
}
