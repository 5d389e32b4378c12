// Package resource wraps the resource managers enlisted in global
// transactions.
package resource

import (
	"context"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/model"
)

// Vote is a resource manager's answer to prepare
type Vote int

const (
	VoteOK Vote = iota
	// VoteReadOnly means the branch changed nothing and needs no second phase
	VoteReadOnly
)

func (v Vote) String() string {
	if v == VoteReadOnly {
		return "READ_ONLY"
	}
	return "OK"
}

// Flag carries XA start/end/recover flags
type Flag int

const (
	FlagNone      Flag = 0
	FlagJoin      Flag = 1 << 21
	FlagEndScan   Flag = 1 << 23
	FlagStartScan Flag = 1 << 24
	FlagSuspend   Flag = 1 << 25
	FlagSuccess   Flag = 1 << 26
	FlagResume    Flag = 1 << 27
	FlagFail      Flag = 1 << 29
)

// Manager is the XA capability of a transactional backend
type Manager interface {
	Start(ctx context.Context, xid model.Xid, flags Flag) error
	End(ctx context.Context, xid model.Xid, flags Flag) error
	Prepare(ctx context.Context, xid model.Xid) (Vote, error)
	Commit(ctx context.Context, xid model.Xid, onePhase bool) error
	Rollback(ctx context.Context, xid model.Xid) error
	Forget(ctx context.Context, xid model.Xid) error
	Recover(ctx context.Context, flags Flag) ([]model.Xid, error)

	// IsSameRM reports whether other reaches the same backend, so two
	// branches may share one physical prepare and commit.
	IsSameRM(other Manager) bool

	SetTransactionTimeout(timeout time.Duration) (bool, error)
	TransactionTimeout() (time.Duration, error)
}

// BranchResolver is implemented by managers that can tell whether a
// prepared branch has been finalized.
type BranchResolver interface {
	IsBranchResolved(ctx context.Context, xid model.Xid) (bool, error)
}
