// Package transaction implements transactional writes with two-phase commit across key owners.
//
// A Manager binds a Transaction to a context. Writes are staged in the transaction and sent to
// the owners only at commit: the Coordinator prepares every owner, which locks and stages the
// writes, then tells them to commit. Owners apply the writes atomically, and lifespan timers start
// at that moment. A failed or timed out prepare rolls back everywhere and leaves no trace.
package transaction
