package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/metrics"
)

type contextKey[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	m *Manager[K, V]
}

// Manager binds transactions to contexts and commits them through its coordinator.
type Manager[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	coordinator *Coordinator[K, V]
	enabled     bool
	metrics     *metrics.Cache
}

// NewManager creates a manager. A disabled manager refuses Begin but still runs implicit transactions.
func NewManager[K txcache.KeyConstraint, V txcache.ValueConstraint](coordinator *Coordinator[K, V], enabled bool) *Manager[K, V] {
	return &Manager[K, V]{
		coordinator: coordinator,
		enabled:     enabled,
		metrics:     coordinator.metrics,
	}
}

// Enabled reports whether explicit transactions can be started.
func (m *Manager[K, V]) Enabled() bool {
	return m.enabled
}

// Begin starts a transaction and returns a context carrying it.
// It fails if ctx already carries an active transaction of this manager.
func (m *Manager[K, V]) Begin(ctx context.Context) (context.Context, error) {
	if !m.enabled {
		return ctx, txcache.ErrTransactionsDisabled
	}
	if tx, ok := m.FromContext(ctx); ok && !tx.Status().Terminal() {
		return ctx, fmt.Errorf("begin in transaction %s: %w", tx.ID(), txcache.ErrTransactionActive)
	}
	return context.WithValue(ctx, contextKey[K, V]{m: m}, newTransaction[K, V]()), nil
}

// FromContext returns the transaction carried by ctx, whatever its status.
func (m *Manager[K, V]) FromContext(ctx context.Context) (*Transaction[K, V], bool) {
	tx, ok := ctx.Value(contextKey[K, V]{m: m}).(*Transaction[K, V])
	return tx, ok && tx != nil
}

// Detach returns a context carrying the values of ctx except its transaction of this manager.
func (m *Manager[K, V]) Detach(ctx context.Context) context.Context {
	if _, ok := m.FromContext(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey[K, V]{m: m}, (*Transaction[K, V])(nil))
}

// Active returns the transaction carried by ctx if it still accepts writes.
func (m *Manager[K, V]) Active(ctx context.Context) (*Transaction[K, V], bool) {
	tx, ok := m.FromContext(ctx)
	if !ok || tx.Status() != StatusActive {
		return nil, false
	}
	return tx, true
}

// Commit commits the transaction carried by ctx.
func (m *Manager[K, V]) Commit(ctx context.Context) error {
	tx, ok := m.FromContext(ctx)
	if !ok {
		return txcache.ErrNoTransaction
	}
	return m.coordinator.Commit(ctx, tx)
}

// Rollback discards the transaction carried by ctx. Nothing was sent to any owner yet.
func (m *Manager[K, V]) Rollback(ctx context.Context) error {
	tx, ok := m.FromContext(ctx)
	if !ok {
		return txcache.ErrNoTransaction
	}
	if err := tx.transition(StatusRolledBack); err != nil {
		return err
	}
	m.metrics.Transaction(metrics.OutcomeRolledBack)
	return nil
}

// Run begins a transaction, calls fn with its context, and commits if fn succeeds or rolls back otherwise.
func (m *Manager[K, V]) Run(ctx context.Context, fn func(context.Context) error) error {
	txCtx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		if rerr := m.Rollback(txCtx); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return m.Commit(txCtx)
}

// Implicit runs fn against a fresh transaction that is not bound to any context and commits it.
// It serves single-operation writes outside explicit transactions.
func (m *Manager[K, V]) Implicit(ctx context.Context, fn func(*Transaction[K, V]) error) error {
	tx := newTransaction[K, V]()
	if err := fn(tx); err != nil {
		_ = tx.transition(StatusRolledBack)
		return err
	}
	return m.coordinator.Commit(ctx, tx)
}
