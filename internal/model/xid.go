package model

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// IDLength is the fixed length of global transaction ids and branch qualifiers
const IDLength = 16

// FormatID is the XA format identifier stamped on every Xid this coordinator creates
const FormatID int32 = 1207

// GlobalTransactionID names a distributed transaction
type GlobalTransactionID [IDLength]byte

// BranchQualifier names one resource manager's participation in a transaction
type BranchQualifier [IDLength]byte

// String returns the lowercase hex form of the id
func (g GlobalTransactionID) String() string {
	return hex.EncodeToString(g[:])
}

// IsZero reports whether every byte of the id is zero
func (g GlobalTransactionID) IsZero() bool {
	return g == GlobalTransactionID{}
}

func (b BranchQualifier) String() string {
	return hex.EncodeToString(b[:])
}

// Xid identifies either a whole global transaction (HasBranch false) or one
// branch of it. Xid values are comparable and safe to use as map keys.
type Xid struct {
	FormatID  int32
	Global    GlobalTransactionID
	Branch    BranchQualifier
	HasBranch bool
}

// NewXid generates a fresh global transaction id
func NewXid() Xid {
	return Xid{FormatID: FormatID, Global: GlobalTransactionID(uuid.New())}
}

// NewBranch derives a branch of x with a freshly generated qualifier
func (x Xid) NewBranch() Xid {
	return x.WithBranch(BranchQualifier(uuid.New()))
}

// WithBranch returns the branch of x identified by bq
func (x Xid) WithBranch(bq BranchQualifier) Xid {
	return Xid{FormatID: x.FormatID, Global: x.Global, Branch: bq, HasBranch: true}
}

// GlobalXid returns the transaction-level Xid x belongs to
func (x Xid) GlobalXid() Xid {
	return Xid{FormatID: x.FormatID, Global: x.Global}
}

// GlobalTransactionIDBytes returns a copy of the global id bytes
func (x Xid) GlobalTransactionIDBytes() []byte {
	return append([]byte(nil), x.Global[:]...)
}

// BranchQualifierBytes returns a copy of the branch qualifier bytes, or nil
// for a transaction-level Xid
func (x Xid) BranchQualifierBytes() []byte {
	if !x.HasBranch {
		return nil
	}
	return append([]byte(nil), x.Branch[:]...)
}

// Equal compares two Xids by byte content
func (x Xid) Equal(o Xid) bool {
	return x.FormatID == o.FormatID &&
		bytes.Equal(x.Global[:], o.Global[:]) &&
		x.HasBranch == o.HasBranch &&
		bytes.Equal(x.Branch[:], o.Branch[:])
}

// Identifier returns the composite key used by pending-branch tables.
// Transaction-level Xids map to the hex global id alone; branches append the
// hex branch qualifier. Equal Xids always produce equal identifiers.
func (x Xid) Identifier() string {
	if !x.HasBranch {
		return x.Global.String()
	}
	return x.Global.String() + x.Branch.String()
}

// BranchColumn returns the value stored in the branch column of a pending
// branch row. Transaction-level Xids store their global id there so that
// recovery can tell them apart.
func (x Xid) BranchColumn() string {
	if !x.HasBranch {
		return x.Global.String()
	}
	return x.Branch.String()
}

func (x Xid) String() string {
	if !x.HasBranch {
		return fmt.Sprintf("xid[%d:%s]", x.FormatID, x.Global)
	}
	return fmt.Sprintf("xid[%d:%s:%s]", x.FormatID, x.Global, x.Branch)
}

// ParseGlobalTransactionID decodes a hex encoded global id
func ParseGlobalTransactionID(s string) (GlobalTransactionID, error) {
	var g GlobalTransactionID
	if err := decodeFixed(s, g[:]); err != nil {
		return g, fmt.Errorf("invalid global transaction id %q: %w", s, err)
	}
	return g, nil
}

// ParseBranchQualifier decodes a hex encoded branch qualifier
func ParseBranchQualifier(s string) (BranchQualifier, error) {
	var b BranchQualifier
	if err := decodeFixed(s, b[:]); err != nil {
		return b, fmt.Errorf("invalid branch qualifier %q: %w", s, err)
	}
	return b, nil
}

// XidFromColumns rebuilds an Xid from the global and branch columns of a
// pending branch row. Equal columns denote a transaction-level Xid.
func XidFromColumns(gxid, bxid string) (Xid, error) {
	global, err := ParseGlobalTransactionID(gxid)
	if err != nil {
		return Xid{}, err
	}
	x := Xid{FormatID: FormatID, Global: global}
	if gxid == bxid {
		return x, nil
	}
	branch, err := ParseBranchQualifier(bxid)
	if err != nil {
		return Xid{}, err
	}
	return x.WithBranch(branch), nil
}

func decodeFixed(s string, dst []byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
