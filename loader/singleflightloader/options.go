package singleflightloader

import (
	"context"

	"github.com/karupanerura/txcache"
)

// Option is the interface for the options of the SingleFlightLoader.
type Option[K txcache.KeyConstraint, V txcache.ValueConstraint] interface {
	apply(*SingleFlightLoader[K, V])
}

type optionFunc[K txcache.KeyConstraint, V txcache.ValueConstraint] func(*SingleFlightLoader[K, V])

func (f optionFunc[K, V]) apply(l *SingleFlightLoader[K, V]) {
	f(l)
}

// WithCloner sets the value cloner used to copy the entry for every waiter but the first.
// The default value cloner is txcache.DefaultValueCloner.
func WithCloner[K txcache.KeyConstraint, V txcache.ValueConstraint](cloner txcache.ValueCloner[V]) Option[K, V] {
	return optionFunc[K, V](func(l *SingleFlightLoader[K, V]) {
		l.cloner = cloner
	})
}

// WithBackgroundContextProvider sets the context provider to the loader.
// A load outlives the callers that gave up waiting, so it runs on this context instead of theirs.
// The default context provider is context.Background.
func WithBackgroundContextProvider[K txcache.KeyConstraint, V txcache.ValueConstraint](provider func() context.Context) Option[K, V] {
	return optionFunc[K, V](func(l *SingleFlightLoader[K, V]) {
		l.context = provider
	})
}
