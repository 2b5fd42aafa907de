package transaction

import (
	"fmt"
)

// Status is the state of a transaction on its coordinator.
type Status int

const (
	StatusActive Status = iota
	StatusPreparing
	StatusCommitted
	StatusRolledBack

	// StatusUnknown is the status of a transaction whose owners disagreed on the outcome.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusPreparing:
		return "PREPARING"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRolledBack:
		return "ROLLED_BACK"
	case StatusUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

var transitions = map[Status][]Status{
	StatusActive:    {StatusPreparing, StatusRolledBack},
	StatusPreparing: {StatusCommitted, StatusRolledBack, StatusUnknown},
}

// CanTransition reports whether a transaction in status s may move to status to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}
