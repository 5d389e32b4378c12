package service

import (
	"github.com/devrev/pairdb/txcoordinator/internal/model"
)

// DefaultCompactionBatchSize is how many live records are handed to the
// compactor at once during rotation.
const DefaultCompactionBatchSize = 10000

// Compactor rewrites a batch of live records before rotation copies them to
// the standby file. Records for one key keep their relative order inside the
// returned batch. Version identifies the rewrite format so a log produced by
// one compactor is never silently reinterpreted by another.
type Compactor interface {
	Version() int
	Compact(batch []model.LogRecord) ([]model.LogRecord, error)
}

// IdentityCompactor persists every batch unchanged
type IdentityCompactor struct{}

func (IdentityCompactor) Version() int { return 0 }

func (IdentityCompactor) Compact(batch []model.LogRecord) ([]model.LogRecord, error) {
	return batch, nil
}

// CoalescingCompactor collapses the CREATE/MODIFY run of each key inside a
// batch into one record carrying the latest payload. A run that starts with
// CREATE stays a CREATE; a run of MODIFYs stays a MODIFY.
type CoalescingCompactor struct{}

func (CoalescingCompactor) Version() int { return 1 }

func (CoalescingCompactor) Compact(batch []model.LogRecord) ([]model.LogRecord, error) {
	index := make(map[model.GlobalTransactionID]int, len(batch))
	out := make([]model.LogRecord, 0, len(batch))

	for _, rec := range batch {
		pos, seen := index[rec.Key]
		if !seen || rec.Operator == model.OperatorDelete || out[pos].Operator == model.OperatorDelete {
			index[rec.Key] = len(out)
			out = append(out, rec)
			continue
		}
		// CREATE after CREATE/MODIFY restarts the run
		if rec.Operator == model.OperatorCreate {
			index[rec.Key] = len(out)
			out = append(out, rec)
			continue
		}
		out[pos].Payload = rec.Payload
	}
	return out, nil
}

// NewCompactor returns the compactor registered under name
func NewCompactor(name string) (Compactor, bool) {
	switch name {
	case "", "none", "identity":
		return IdentityCompactor{}, true
	case "coalesce":
		return CoalescingCompactor{}, true
	default:
		return nil, false
	}
}
