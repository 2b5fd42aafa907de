package memstorage

import (
	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/expiration"
	"github.com/karupanerura/txcache/internal/keyhash"
)

// DefaultBucketsSize is the default number of buckets in the store.
var DefaultBucketsSize = 256

// Option is the interface for the options of the in-memory entry store.
type Option[K txcache.KeyConstraint, V txcache.ValueConstraint] interface {
	apply(*options[K, V])
}

type optionFunc[K txcache.KeyConstraint, V txcache.ValueConstraint] func(*options[K, V])

func (f optionFunc[K, V]) apply(o *options[K, V]) {
	f(o)
}

// WithKeyHash sets the function that distributes keys across the buckets.
func WithKeyHash[K txcache.KeyConstraint, V txcache.ValueConstraint](f func(K) uint64) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.hashKey = f
	})
}

// WithBucketsSize sets the number of buckets in the store.
// The number of buckets must be a natural number.
func WithBucketsSize[K txcache.KeyConstraint, V txcache.ValueConstraint](bucketsSize int) Option[K, V] {
	if bucketsSize <= 0 {
		panic("bucketSize must be natural number")
	}
	return optionFunc[K, V](func(o *options[K, V]) {
		o.bucketsSize = bucketsSize
	})
}

// WithClock sets the clock used for commit timestamps and expiration checks.
func WithClock[K txcache.KeyConstraint, V txcache.ValueConstraint](clock txcache.Clock) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.clock = clock
	})
}

// WithCloner sets the value cloner to the store.
func WithCloner[K txcache.KeyConstraint, V txcache.ValueConstraint](cloner txcache.ValueCloner[V]) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.cloner = cloner
	})
}

// WithExpirationPolicy sets the policy deciding whether a deadline has passed.
func WithExpirationPolicy[K txcache.KeyConstraint, V txcache.ValueConstraint](policy expiration.ExpirationPolicy) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.policy = policy
	})
}

// WithExpiredReadHook sets a function called with the key of every expired entry hit by a read.
// It is called after the bucket lock is released.
func WithExpiredReadHook[K txcache.KeyConstraint, V txcache.ValueConstraint](hook func(K)) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.onExpiredRead = hook
	})
}

type options[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	hashKey       func(K) uint64
	bucketsSize   int
	clock         txcache.Clock
	cloner        txcache.ValueCloner[V]
	policy        expiration.ExpirationPolicy
	onExpiredRead func(K)
}

func defaultOptions[K txcache.KeyConstraint, V txcache.ValueConstraint]() options[K, V] {
	return options[K, V]{
		hashKey:     keyhash.For[K](),
		bucketsSize: DefaultBucketsSize,
		clock:       txcache.SystemClock,
		cloner:      txcache.DefaultValueCloner[V](),
		policy:      expiration.GeneralExpirationPolicy{},
	}
}
