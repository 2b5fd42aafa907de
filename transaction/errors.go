package transaction

import (
	"fmt"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
)

// RollbackError is returned by a commit that rolled back. No store was mutated.
type RollbackError struct {
	TxID  string
	Cause error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("txcache: transaction %s rolled back: %v", e.TxID, e.Cause)
}

func (e *RollbackError) Unwrap() error {
	return e.Cause
}

func (e *RollbackError) Is(target error) bool {
	return target == txcache.ErrRollback
}

// HeuristicError is returned by a commit that failed on some owners after all of them prepared.
// Committed lists the owners that applied the writes, Failed those that did not confirm.
type HeuristicError struct {
	TxID      string
	Committed []cluster.NodeID
	Failed    []cluster.NodeID
	Cause     error
}

func (e *HeuristicError) Mixed() bool {
	return len(e.Committed) != 0
}

func (e *HeuristicError) Error() string {
	kind := "rollback"
	if e.Mixed() {
		kind = "mixed"
	}
	return fmt.Sprintf("txcache: transaction %s heuristic %s outcome (committed=%v failed=%v): %v", e.TxID, kind, e.Committed, e.Failed, e.Cause)
}

func (e *HeuristicError) Unwrap() error {
	return e.Cause
}

func (e *HeuristicError) Is(target error) bool {
	if e.Mixed() {
		return target == txcache.ErrHeuristicMixed
	}
	return target == txcache.ErrHeuristicRollback
}
