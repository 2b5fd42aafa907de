// Package txcache defines the shared types of an embedded, distributed, transactional cache
// with time based expiration.
//
// Entries are written through transactions and become visible, and start their lifespan,
// only when the transaction commits on every owner of the key. A background reaper removes
// expired entries and emits exactly one expiration event per entry on its primary owner.
//
// The components live in subpackages: storage/memstorage (entry store), transaction
// (two-phase commit), reaper (expiration), notify (listeners), cluster (ownership),
// transport/inproc (in-process node links), config (YAML configuration) and embedded
// (the cache manager composing them).
package txcache
