package model

import "time"

// PendingBranch is one row of a resource manager's pending-branch table.
// A row exists from the moment the branch is prepared until it is forgotten.
type PendingBranch struct {
	Identifier string // Xid.Identifier()
	GlobalID   string // hex global transaction id
	BranchID   string // hex branch qualifier, equal to GlobalID for transaction-level rows
	ResourceID string
	CreatedAt  time.Time
}

// NewPendingBranch builds the row recorded when xid is prepared on resourceID
func NewPendingBranch(xid Xid, resourceID string) PendingBranch {
	return PendingBranch{
		Identifier: xid.Identifier(),
		GlobalID:   xid.Global.String(),
		BranchID:   xid.BranchColumn(),
		ResourceID: resourceID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Xid rebuilds the Xid the row was recorded for
func (p PendingBranch) Xid() (Xid, error) {
	return XidFromColumns(p.GlobalID, p.BranchID)
}
