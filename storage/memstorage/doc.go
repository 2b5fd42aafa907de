// Package memstorage provides an in-memory implementation of the txcache.EntryStore interface.
//
// Entries are distributed across buckets, each guarded by its own read/write lock. Batches
// passed to Apply lock every involved bucket in ascending order, so readers see either the
// whole batch or none of it. Commit timestamps are taken when a batch is applied, which is
// where lifespan and max idle timers start.
//
// Reads never return expired entries. The store does not remove them on read; it reports them
// through an optional hook so a reaper can remove them and emit expiration events.
package memstorage
