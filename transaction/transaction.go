package transaction

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/karupanerura/txcache"
)

// Transaction stages writes until it is committed.
// Nothing it stages is visible to other transactions or to the reaper before commit.
type Transaction[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	id string

	mu           sync.Mutex
	status       Status
	writes       []txcache.Mutation[K, V]
	index        map[K]int
	rollbackOnly error
}

func newTransaction[K txcache.KeyConstraint, V txcache.ValueConstraint]() *Transaction[K, V] {
	return &Transaction[K, V]{
		id:    uuid.NewString(),
		index: map[K]int{},
	}
}

// ID returns the unique id of the transaction.
func (tx *Transaction[K, V]) ID() string {
	return tx.id
}

// Status returns the current status.
func (tx *Transaction[K, V]) Status() Status {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.status
}

// Stage adds a write to the write set. A later write of the same key replaces the earlier one
// but keeps its position.
func (tx *Transaction[K, V]) Stage(m txcache.Mutation[K, V]) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != StatusActive {
		return fmt.Errorf("stage write in %s transaction %s: %w", tx.status, tx.id, txcache.ErrInvalidTransactionState)
	}
	if i, ok := tx.index[m.Key]; ok {
		tx.writes[i] = m
		return nil
	}
	tx.index[m.Key] = len(tx.writes)
	tx.writes = append(tx.writes, m)
	return nil
}

// Lookup returns the staged write of the key.
func (tx *Transaction[K, V]) Lookup(key K) (txcache.Mutation[K, V], bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	i, ok := tx.index[key]
	if !ok {
		return txcache.Mutation[K, V]{}, false
	}
	return tx.writes[i], true
}

// Writes returns a copy of the write set in staging order.
func (tx *Transaction[K, V]) Writes() []txcache.Mutation[K, V] {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return slices.Clone(tx.writes)
}

// SetRollbackOnly marks the transaction so that its commit rolls back with the given cause.
func (tx *Transaction[K, V]) SetRollbackOnly(cause error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.rollbackOnly == nil {
		tx.rollbackOnly = cause
	}
}

// RollbackOnly returns the cause set by SetRollbackOnly.
func (tx *Transaction[K, V]) RollbackOnly() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.rollbackOnly
}

func (tx *Transaction[K, V]) transition(to Status) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if !tx.status.CanTransition(to) {
		return fmt.Errorf("transaction %s from %s to %s: %w", tx.id, tx.status, to, txcache.ErrInvalidTransactionState)
	}
	tx.status = to
	if to == StatusRolledBack {
		tx.writes = nil
		clear(tx.index)
	}
	return nil
}
