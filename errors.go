package txcache

import "errors"

var (
	// ErrRollback is returned by a commit that rolled back without mutating any store.
	ErrRollback = errors.New("txcache: transaction rolled back")

	// ErrHeuristicMixed is returned by a commit where some owners committed and others did not.
	// The outcome needs reconciliation by an operator.
	ErrHeuristicMixed = errors.New("txcache: heuristic mixed outcome")

	// ErrHeuristicRollback is returned by a commit where every owner failed to commit after a successful prepare.
	ErrHeuristicRollback = errors.New("txcache: heuristic rollback outcome")

	// ErrOwnershipUnavailable is returned when no reachable owner exists for a key.
	ErrOwnershipUnavailable = errors.New("txcache: no reachable owner")

	// ErrListenerFailure wraps an error or panic raised by a listener callback.
	ErrListenerFailure = errors.New("txcache: listener failure")

	// ErrNoTransaction is returned by a write outside a transaction when auto commit is disabled.
	ErrNoTransaction = errors.New("txcache: no transaction bound to the context")

	// ErrTransactionActive is returned by Begin when the context already carries a transaction.
	ErrTransactionActive = errors.New("txcache: transaction already active")

	// ErrInvalidTransactionState is returned on an illegal transaction status transition.
	ErrInvalidTransactionState = errors.New("txcache: invalid transaction state")

	// ErrUnknownTransaction is returned when a participant is asked to commit a transaction it never prepared.
	ErrUnknownTransaction = errors.New("txcache: unknown transaction")

	// ErrTransactionsDisabled is returned by Begin on a non-transactional cache.
	ErrTransactionsDisabled = errors.New("txcache: cache is not transactional")

	// ErrLockTimeout is returned when a key lock could not be acquired in time.
	ErrLockTimeout = errors.New("txcache: lock acquisition timed out")

	// ErrCacheStopped is returned by operations on a stopped cache.
	ErrCacheStopped = errors.New("txcache: cache stopped")

	// ErrCacheTypeMismatch is returned when a cache name is requested with other key or value types.
	ErrCacheTypeMismatch = errors.New("txcache: cache type mismatch")
)
