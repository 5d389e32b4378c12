// Package recovery gives resource managers without native recovery a
// persisted pending-branch table, so prepared branches survive a restart.
package recovery

import (
	"context"

	"github.com/devrev/pairdb/txcoordinator/internal/model"
)

// DefaultTableName is the pending-branch table used when none is configured
const DefaultTableName = "bytejta"

// TableState is the outcome of probing for the pending-branch table
type TableState int

const (
	TableExists TableState = iota
	TableNotFound
	TableProbeFailed
)

func (s TableState) String() string {
	switch s {
	case TableExists:
		return "exists"
	case TableNotFound:
		return "not_found"
	default:
		return "probe_failed"
	}
}

// BranchTable stores one row per prepared branch, keyed by Xid.Identifier
type BranchTable interface {
	// Insert records a pending branch. Inserting an existing identifier is a no-op.
	Insert(ctx context.Context, branch model.PendingBranch) error

	// Exists reports whether a row with identifier is present
	Exists(ctx context.Context, identifier string) (bool, error)

	// List returns every pending row
	List(ctx context.Context) ([]model.PendingBranch, error)

	// DeleteBatch removes all identifiers in one local transaction, or none
	DeleteBatch(ctx context.Context, identifiers []string) error

	// Probe checks whether the table exists. It is only consulted after
	// another call failed.
	Probe(ctx context.Context) (TableState, error)

	Ping(ctx context.Context) error
	Close() error
}
