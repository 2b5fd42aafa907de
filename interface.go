package txcache

import (
	"context"
	"time"
)

// KeyConstraint is an interface for key constraints.
type KeyConstraint interface {
	comparable
}

// ValueConstraint is an interface for value constraints.
type ValueConstraint interface {
	any
}

// Entry is a key-value pair.
type Entry[K KeyConstraint, V ValueConstraint] struct {
	// Key is the key of the entry.
	Key K

	// Value is the value associated with the key.
	Value V
}

// CacheEntry is a committed key-value pair with its versioning and expiration metadata.
type CacheEntry[K KeyConstraint, V ValueConstraint] struct {
	Entry[K, V]

	// Version increases with every committed write of the key.
	Version uint64

	// Created is the time the entry was committed to the store.
	// Lifespan is measured from here, never from the time of the staged write.
	Created time.Time

	// LastUsed is the last time the entry was read or written.
	// Max idle is measured from here.
	LastUsed time.Time

	// Lifespan is the maximum duration the entry may live after Created.
	// Zero or negative means the entry is immortal.
	Lifespan time.Duration

	// MaxIdle is the maximum duration the entry may live without being accessed.
	// Zero or negative disables idle expiration.
	MaxIdle time.Duration
}

// Mutation is a write staged by a transaction: a put of Value or, if Remove is set, a tombstone.
type Mutation[K KeyConstraint, V ValueConstraint] struct {
	Key      K
	Value    V
	Remove   bool
	Lifespan time.Duration
	MaxIdle  time.Duration

	// Version is assigned by the transaction coordinator at commit.
	// A zero Version lets the store pick the next local version.
	Version uint64
}

// Change describes the effect of one applied mutation.
// Previous is nil when the key was created; Current is nil when the key was removed.
type Change[K KeyConstraint, V ValueConstraint] struct {
	Key      K
	Previous *CacheEntry[K, V]
	Current  *CacheEntry[K, V]
}

// Created reports whether the change created a new entry.
func (c Change[K, V]) Created() bool {
	return c.Previous == nil && c.Current != nil
}

// Removed reports whether the change removed an entry.
func (c Change[K, V]) Removed() bool {
	return c.Current == nil
}

// EntryStore is the committed view of the entries owned by one node.
// Implementations must be thread-safe and must never expose a partially applied batch.
type EntryStore[K KeyConstraint, V ValueConstraint] interface {
	// Get retrieves a live entry by its key and refreshes its last access time.
	// If the key is not found or expired, it returns nil.
	// It must clone the returned entry before returning it.
	Get(context.Context, K) (*CacheEntry[K, V], error)

	// Peek is like Get but does not refresh the last access time.
	Peek(context.Context, K) (*CacheEntry[K, V], error)

	// Apply applies all mutations atomically with respect to concurrent readers
	// and returns one Change per mutation that had a visible effect.
	Apply(context.Context, []Mutation[K, V]) ([]Change[K, V], error)

	// Install stores entries received by state transfer, keeping their timestamps.
	// An entry only replaces an existing one with a lower version.
	// It returns the number of installed entries.
	Install(context.Context, []*CacheEntry[K, V]) (int, error)

	// RemoveVersion removes the entry if its version is not newer than the given one.
	// It returns the removed entry or nil.
	RemoveVersion(context.Context, K, uint64) (*CacheEntry[K, V], error)

	// Snapshot returns copies of all live entries.
	Snapshot(context.Context) ([]*CacheEntry[K, V], error)
}
