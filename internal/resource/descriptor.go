package resource

import (
	"context"
	"fmt"
	"time"

	xaerrors "github.com/devrev/pairdb/txcoordinator/internal/errors"
	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"github.com/devrev/pairdb/txcoordinator/internal/util"
	"go.uber.org/zap"
)

// Descriptor binds a logical resource identifier to a Manager. Until a
// manager is bound every call is a no-op, and Prepare votes read-only.
type Descriptor struct {
	identifier      string
	loggingRequired bool
	delegate        util.Slot[Manager]
	logger          *zap.Logger
}

// DescriptorOption configures a Descriptor
type DescriptorOption func(*Descriptor)

// WithLoggingRequired marks the resource as relying on a pending-branch table
func WithLoggingRequired() DescriptorOption {
	return func(d *Descriptor) { d.loggingRequired = true }
}

// WithDelegate binds rm at construction
func WithDelegate(rm Manager) DescriptorOption {
	return func(d *Descriptor) {
		if rm != nil {
			d.delegate.Set(rm)
		}
	}
}

// NewDescriptor creates a descriptor for identifier
func NewDescriptor(identifier string, logger *zap.Logger, opts ...DescriptorOption) *Descriptor {
	d := &Descriptor{identifier: identifier, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Bind sets the delegate. A descriptor is bound at most once.
func (d *Descriptor) Bind(rm Manager) error {
	if rm == nil {
		return xaerrors.InvalidArgument("resource manager is required", nil)
	}
	if !d.delegate.Set(rm) {
		return xaerrors.AlreadyBound(d.String())
	}
	return nil
}

// Await blocks until a delegate is bound or ctx is done
func (d *Descriptor) Await(ctx context.Context) (Manager, error) {
	return d.delegate.Await(ctx)
}

// Delegate returns the bound manager, if any
func (d *Descriptor) Delegate() (Manager, bool) {
	return d.delegate.Get()
}

func (d *Descriptor) Identifier() string    { return d.identifier }
func (d *Descriptor) LoggingRequired() bool { return d.loggingRequired }

func (d *Descriptor) String() string {
	return fmt.Sprintf("local-xa-resource[%s]", d.identifier)
}

func (d *Descriptor) Start(ctx context.Context, xid model.Xid, flags Flag) error {
	rm, ok := d.Delegate()
	if !ok {
		return nil
	}
	return rm.Start(ctx, xid, flags)
}

func (d *Descriptor) End(ctx context.Context, xid model.Xid, flags Flag) error {
	rm, ok := d.Delegate()
	if !ok {
		return nil
	}
	return rm.End(ctx, xid, flags)
}

func (d *Descriptor) Prepare(ctx context.Context, xid model.Xid) (Vote, error) {
	rm, ok := d.Delegate()
	if !ok {
		return VoteReadOnly, nil
	}
	return rm.Prepare(ctx, xid)
}

func (d *Descriptor) Commit(ctx context.Context, xid model.Xid, onePhase bool) error {
	rm, ok := d.Delegate()
	if !ok {
		return nil
	}
	return rm.Commit(ctx, xid, onePhase)
}

func (d *Descriptor) Rollback(ctx context.Context, xid model.Xid) error {
	rm, ok := d.Delegate()
	if !ok {
		return nil
	}
	return rm.Rollback(ctx, xid)
}

func (d *Descriptor) Forget(ctx context.Context, xid model.Xid) error {
	rm, ok := d.Delegate()
	if !ok {
		return nil
	}
	return rm.Forget(ctx, xid)
}

func (d *Descriptor) Recover(ctx context.Context, flags Flag) ([]model.Xid, error) {
	rm, ok := d.Delegate()
	if !ok {
		return nil, nil
	}
	return rm.Recover(ctx, flags)
}

// IsSameRM requires both the identifier and the backend to match when other
// is a Descriptor; otherwise the delegate decides.
func (d *Descriptor) IsSameRM(other Manager) bool {
	rm, ok := d.Delegate()
	if !ok || other == nil {
		return false
	}

	if that, isDescriptor := other.(*Descriptor); isDescriptor {
		if d.identifier != that.identifier {
			return false
		}
		thatRM, bound := that.Delegate()
		if !bound {
			return false
		}
		return rm.IsSameRM(thatRM)
	}
	return rm.IsSameRM(other)
}

func (d *Descriptor) SetTransactionTimeout(timeout time.Duration) (bool, error) {
	rm, ok := d.Delegate()
	if !ok {
		return false, nil
	}
	return rm.SetTransactionTimeout(timeout)
}

// SetTransactionTimeoutQuietly sets the timeout, ignoring failures
func (d *Descriptor) SetTransactionTimeoutQuietly(timeout time.Duration) {
	if _, err := d.SetTransactionTimeout(timeout); err != nil {
		d.logger.Debug("Failed to set transaction timeout",
			zap.String("resource", d.identifier),
			zap.Duration("timeout", timeout),
			zap.Error(err))
	}
}

func (d *Descriptor) TransactionTimeout() (time.Duration, error) {
	rm, ok := d.Delegate()
	if !ok {
		return 0, nil
	}
	return rm.TransactionTimeout()
}

// IsBranchResolved asks the delegate whether xid was finalized. The
// delegate must track its branches.
func (d *Descriptor) IsBranchResolved(ctx context.Context, xid model.Xid) (bool, error) {
	rm, ok := d.Delegate()
	if !ok {
		return false, xaerrors.NotBound(d.identifier)
	}
	resolver, ok := rm.(BranchResolver)
	if !ok {
		return false, xaerrors.InvalidArgument(fmt.Sprintf("%s does not track prepared branches", d), nil)
	}
	return resolver.IsBranchResolved(ctx, xid)
}
