package memstorage

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/expiration"
)

// Expiry identifies an expired entry found by a scan.
type Expiry[K txcache.KeyConstraint] struct {
	Key     K
	Version uint64
	Reason  expiration.Reason
}

type record[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	entry *txcache.CacheEntry[K, V]

	// lastUsed is refreshed by readers holding only the bucket read lock.
	lastUsed atomic.Int64
}

func newRecord[K txcache.KeyConstraint, V txcache.ValueConstraint](entry *txcache.CacheEntry[K, V]) *record[K, V] {
	r := &record[K, V]{entry: entry}
	r.lastUsed.Store(entry.LastUsed.UnixNano())
	return r
}

func (r *record[K, V]) timestamps() expiration.Timestamps {
	return expiration.Timestamps{
		Created:  r.entry.Created,
		LastUsed: time.Unix(0, r.lastUsed.Load()),
		Lifespan: r.entry.Lifespan,
		MaxIdle:  r.entry.MaxIdle,
	}
}

type bucket[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	m  map[K]*record[K, V]
	mu sync.RWMutex
}

// Store is an in-memory txcache.EntryStore.
// Keys are distributed across buckets, each guarded by its own lock.
// Multi-key operations lock every involved bucket in ascending order, so a batch is never observed half applied.
type Store[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	buckets []*bucket[K, V]
	options options[K, V]
}

var _ txcache.EntryStore[uint8, struct{}] = (*Store[uint8, struct{}])(nil)

// NewInMemoryStorage creates a new in-memory entry store.
func NewInMemoryStorage[K txcache.KeyConstraint, V txcache.ValueConstraint](opts ...Option[K, V]) *Store[K, V] {
	options := defaultOptions[K, V]()
	for _, opt := range opts {
		opt.apply(&options)
	}

	buckets := make([]*bucket[K, V], options.bucketsSize)
	for i := range buckets {
		buckets[i] = &bucket[K, V]{m: map[K]*record[K, V]{}}
	}
	return &Store[K, V]{
		buckets: buckets,
		options: options,
	}
}

func (s *Store[K, V]) bucketIndex(key K) int {
	return int(s.options.hashKey(key) % uint64(len(s.buckets)))
}

func (s *Store[K, V]) resolveBucket(key K) *bucket[K, V] {
	return s.buckets[s.bucketIndex(key)]
}

// resolveBuckets returns the sorted, distinct bucket indexes of the keys.
func (s *Store[K, V]) resolveBuckets(keys []K) []int {
	indexes := make([]int, 0, len(keys))
	for _, key := range keys {
		indexes = append(indexes, s.bucketIndex(key))
	}
	slices.Sort(indexes)
	return slices.Compact(indexes)
}

func (s *Store[K, V]) lockBuckets(indexes []int) (unlock func()) {
	for _, i := range indexes {
		s.buckets[i].mu.Lock()
	}
	return func() {
		for j := len(indexes) - 1; j >= 0; j-- {
			s.buckets[indexes[j]].mu.Unlock()
		}
	}
}

func (s *Store[K, V]) rlockBuckets(indexes []int) (unlock func()) {
	for _, i := range indexes {
		s.buckets[i].mu.RLock()
	}
	return func() {
		for j := len(indexes) - 1; j >= 0; j-- {
			s.buckets[indexes[j]].mu.RUnlock()
		}
	}
}

func (s *Store[K, V]) expired(now time.Time, r *record[K, V]) expiration.Reason {
	return expiration.Evaluate(s.options.policy, now, r.timestamps())
}

func (s *Store[K, V]) snapshot(r *record[K, V]) *txcache.CacheEntry[K, V] {
	e := txcache.CloneEntry(s.options.cloner, r.entry)
	e.LastUsed = time.Unix(0, r.lastUsed.Load())
	return e
}

func (s *Store[K, V]) notifyExpiredRead(keys ...K) {
	if s.options.onExpiredRead == nil {
		return
	}
	for _, key := range keys {
		s.options.onExpiredRead(key)
	}
}

// Get retrieves a live entry and refreshes its last access time.
// An expired entry is reported as absent and handed to the expired read hook.
func (s *Store[K, V]) Get(_ context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	return s.get(key, true), nil
}

// Peek retrieves a live entry without refreshing its last access time.
func (s *Store[K, V]) Peek(_ context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	return s.get(key, false), nil
}

func (s *Store[K, V]) get(key K, touch bool) *txcache.CacheEntry[K, V] {
	now := s.options.clock.Now()
	b := s.resolveBucket(key)

	b.mu.RLock()
	r, ok := b.m[key]
	if !ok {
		b.mu.RUnlock()
		return nil
	}
	if s.expired(now, r) != expiration.NotExpired {
		b.mu.RUnlock()
		s.notifyExpiredRead(key)
		return nil
	}
	if touch {
		r.lastUsed.Store(now.UnixNano())
	}
	e := s.snapshot(r)
	b.mu.RUnlock()
	return e
}

// GetMulti retrieves the live entries of the keys as one consistent snapshot.
// The result has the same length as keys, with nil for absent or expired entries.
func (s *Store[K, V]) GetMulti(_ context.Context, keys []K) ([]*txcache.CacheEntry[K, V], error) {
	now := s.options.clock.Now()
	result := make([]*txcache.CacheEntry[K, V], len(keys))
	var expiredKeys []K

	unlock := s.rlockBuckets(s.resolveBuckets(keys))
	for i, key := range keys {
		r, ok := s.resolveBucket(key).m[key]
		if !ok {
			continue
		}
		if s.expired(now, r) != expiration.NotExpired {
			expiredKeys = append(expiredKeys, key)
			continue
		}
		r.lastUsed.Store(now.UnixNano())
		result[i] = s.snapshot(r)
	}
	unlock()

	s.notifyExpiredRead(expiredKeys...)
	return result, nil
}

// Apply applies the mutations in order, all under the locks of every involved bucket.
// Every written entry gets the same commit timestamp, which starts its lifespan and idle timers.
// An expired previous entry is treated as absent.
func (s *Store[K, V]) Apply(_ context.Context, mutations []txcache.Mutation[K, V]) ([]txcache.Change[K, V], error) {
	if len(mutations) == 0 {
		return nil, nil
	}

	keys := make([]K, len(mutations))
	for i, m := range mutations {
		keys[i] = m.Key
	}
	unlock := s.lockBuckets(s.resolveBuckets(keys))
	defer unlock()

	now := s.options.clock.Now()
	changes := make([]txcache.Change[K, V], 0, len(mutations))
	for _, m := range mutations {
		b := s.resolveBucket(m.Key)

		var (
			previous    *txcache.CacheEntry[K, V]
			lastVersion uint64
		)
		if r, ok := b.m[m.Key]; ok {
			lastVersion = r.entry.Version
			if s.expired(now, r) == expiration.NotExpired {
				previous = s.snapshot(r)
			}
		}

		if m.Remove {
			delete(b.m, m.Key)
			if previous != nil {
				changes = append(changes, txcache.Change[K, V]{Key: m.Key, Previous: previous})
			}
			continue
		}

		version := m.Version
		if version == 0 || version <= lastVersion {
			version = lastVersion + 1
		}
		entry := &txcache.CacheEntry[K, V]{
			Entry:    txcache.Entry[K, V]{Key: m.Key, Value: s.options.cloner.CloneValue(m.Value)},
			Version:  version,
			Created:  now,
			LastUsed: now,
			Lifespan: m.Lifespan,
			MaxIdle:  m.MaxIdle,
		}
		r := newRecord(entry)
		b.m[m.Key] = r
		changes = append(changes, txcache.Change[K, V]{Key: m.Key, Previous: previous, Current: s.snapshot(r)})
	}
	return changes, nil
}

// Put writes a single entry and returns its new version.
func (s *Store[K, V]) Put(ctx context.Context, m txcache.Mutation[K, V]) (uint64, error) {
	m.Remove = false
	changes, err := s.Apply(ctx, []txcache.Mutation[K, V]{m})
	if err != nil {
		return 0, err
	}
	return changes[0].Current.Version, nil
}

// Remove removes a single entry and reports whether a live entry was removed.
func (s *Store[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	changes, err := s.Apply(ctx, []txcache.Mutation[K, V]{{Key: key, Remove: true}})
	if err != nil {
		return false, err
	}
	return len(changes) != 0, nil
}

// Install stores entries received by state transfer with their original timestamps.
// An entry replaces an existing one only if its version is newer.
func (s *Store[K, V]) Install(_ context.Context, entries []*txcache.CacheEntry[K, V]) (int, error) {
	keys := make([]K, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			keys = append(keys, e.Key)
		}
	}
	unlock := s.lockBuckets(s.resolveBuckets(keys))
	defer unlock()

	var installed int
	for _, e := range entries {
		if e == nil {
			continue
		}
		b := s.resolveBucket(e.Key)
		if r, ok := b.m[e.Key]; ok && r.entry.Version >= e.Version {
			continue
		}
		b.m[e.Key] = newRecord(txcache.CloneEntry(s.options.cloner, e))
		installed++
	}
	return installed, nil
}

// RemoveVersion removes the entry unless it is newer than version, whether it is expired or not.
func (s *Store[K, V]) RemoveVersion(_ context.Context, key K, version uint64) (*txcache.CacheEntry[K, V], error) {
	b := s.resolveBucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.m[key]
	if !ok || r.entry.Version > version {
		return nil, nil
	}
	delete(b.m, key)
	return s.snapshot(r), nil
}

// Snapshot returns copies of all live entries. Buckets are visited one at a time.
func (s *Store[K, V]) Snapshot(_ context.Context) ([]*txcache.CacheEntry[K, V], error) {
	now := s.options.clock.Now()
	var entries []*txcache.CacheEntry[K, V]
	for _, b := range s.buckets {
		b.mu.RLock()
		for _, r := range b.m {
			if s.expired(now, r) == expiration.NotExpired {
				entries = append(entries, s.snapshot(r))
			}
		}
		b.mu.RUnlock()
	}
	return entries, nil
}

// Expired scans for entries expired at now.
func (s *Store[K, V]) Expired(now time.Time) []Expiry[K] {
	var found []Expiry[K]
	for _, b := range s.buckets {
		b.mu.RLock()
		for key, r := range b.m {
			if reason := s.expired(now, r); reason != expiration.NotExpired {
				found = append(found, Expiry[K]{Key: key, Version: r.entry.Version, Reason: reason})
			}
		}
		b.mu.RUnlock()
	}
	return found
}

// RemoveExpired re-checks the entry at now and removes it if it is still expired.
// Idle expiration is only honored when idle is true.
// It returns the removed entry and the reason, or nil if nothing was removed.
func (s *Store[K, V]) RemoveExpired(_ context.Context, key K, now time.Time, idle bool) (*txcache.CacheEntry[K, V], expiration.Reason) {
	b := s.resolveBucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.m[key]
	if !ok {
		return nil, expiration.NotExpired
	}
	reason := s.expired(now, r)
	if reason == expiration.NotExpired || (reason == expiration.IdleExceeded && !idle) {
		return nil, expiration.NotExpired
	}
	delete(b.m, key)
	return s.snapshot(r), reason
}

// Len returns the number of stored entries, expired ones included.
func (s *Store[K, V]) Len() int {
	var n int
	for _, b := range s.buckets {
		b.mu.RLock()
		n += len(b.m)
		b.mu.RUnlock()
	}
	return n
}
