package transaction

import (
	"context"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
)

// Participant is the view a node offers to the coordinators and reapers of other nodes.
type Participant[K txcache.KeyConstraint, V txcache.ValueConstraint] interface {
	// Prepare locks the keys of the writes and stages them under the transaction id.
	Prepare(ctx context.Context, txID string, writes []txcache.Mutation[K, V]) error

	// Commit applies the writes staged by Prepare and releases their locks.
	Commit(ctx context.Context, txID string) error

	// Rollback discards the writes staged by Prepare. Rolling back an unknown transaction is a no-op.
	Rollback(ctx context.Context, txID string) error

	// Get reads a committed entry.
	Get(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error)

	// Transfer installs entries pushed by another node during a rebalance.
	Transfer(ctx context.Context, entries []*txcache.CacheEntry[K, V]) (int, error)

	// Expire removes an entry the primary owner expired, unless a newer version is stored.
	Expire(ctx context.Context, key K, version uint64) error
}

// Transport resolves the participant of a node.
type Transport[K txcache.KeyConstraint, V txcache.ValueConstraint] interface {
	Participant(node cluster.NodeID) (Participant[K, V], error)
}

// TransportFunc is a function implementing Transport.
type TransportFunc[K txcache.KeyConstraint, V txcache.ValueConstraint] func(cluster.NodeID) (Participant[K, V], error)

func (f TransportFunc[K, V]) Participant(node cluster.NodeID) (Participant[K, V], error) {
	return f(node)
}
