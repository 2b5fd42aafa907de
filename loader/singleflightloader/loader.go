package singleflightloader

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/internal/panicutil"
)

var errGoexit = errors.New("runtime.Goexit is called")

// Source loads the committed entry of a key. A nil entry means the key does not exist.
type Source[K txcache.KeyConstraint, V txcache.ValueConstraint] func(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error)

// SingleFlightLoader runs at most one load per key at a time and shares its result with every caller waiting for it.
type SingleFlightLoader[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	source  Source[K, V]
	cloner  txcache.ValueCloner[V]
	context func() context.Context

	mu        sync.Mutex
	waitlists map[K][]chan either[error, *txcache.CacheEntry[K, V]]
}

// NewSingleFlightLoader creates a new SingleFlightLoader instance.
func NewSingleFlightLoader[K txcache.KeyConstraint, V txcache.ValueConstraint](source Source[K, V], opts ...Option[K, V]) *SingleFlightLoader[K, V] {
	loader := &SingleFlightLoader[K, V]{
		source:    source,
		context:   context.Background,
		waitlists: map[K][]chan either[error, *txcache.CacheEntry[K, V]]{},
	}
	for _, o := range opts {
		o.apply(loader)
	}
	if loader.cloner == nil {
		loader.cloner = txcache.DefaultValueCloner[V]()
	}
	return loader
}

type either[L any, R any] struct {
	L L
	R R
}

// Load returns the entry of the key, joining a load already in flight if there is one.
// If ctx is done first, Load returns its error and the load goes on for the other waiters.
func (l *SingleFlightLoader[K, V]) Load(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	ch := l.registerKey(key)
	select {
	case e := <-ch:
		if e.L != nil {
			if e.L == errGoexit {
				runtime.Goexit()
			}
			return nil, e.L
		}
		return e.R, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the number of keys being loaded.
func (l *SingleFlightLoader[K, V]) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waitlists)
}

// registerKey registers a key and returns a channel to receive the result.
func (l *SingleFlightLoader[K, V]) registerKey(key K) chan either[error, *txcache.CacheEntry[K, V]] {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan either[error, *txcache.CacheEntry[K, V]], 1)
	l.waitlists[key] = append(l.waitlists[key], ch)
	if len(l.waitlists[key]) == 1 {
		go l.load(l.context(), key)
	}
	return ch
}

func (l *SingleFlightLoader[K, V]) load(ctx context.Context, key K) {
	var entry *txcache.CacheEntry[K, V]
	err := panicutil.Guard(func() (err error) {
		entry, err = l.source(ctx, key)
		return
	}, func() {
		l.finish(key, either[error, *txcache.CacheEntry[K, V]]{L: errGoexit})
	})
	l.finish(key, either[error, *txcache.CacheEntry[K, V]]{L: err, R: entry})
}

// finish hands the result to every waiter of the key.
func (l *SingleFlightLoader[K, V]) finish(key K, result either[error, *txcache.CacheEntry[K, V]]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	waitlist, ok := l.waitlists[key]
	if !ok {
		return
	}
	delete(l.waitlists, key)
	for i, wl := range waitlist {
		r := result
		if i != 0 && r.L == nil {
			// the first receiver takes the loaded entry itself
			r.R = txcache.CloneEntry(l.cloner, r.R)
		}
		wl <- r
		close(wl)
	}
}
