package inproc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/transaction"
)

// ErrUnreachable is returned for a node that is not registered or was disconnected.
var ErrUnreachable = errors.New("inproc: node unreachable")

// Fault describes failures injected in front of a node's participants.
type Fault struct {
	FailPrepare  error
	FailCommit   error
	PrepareDelay time.Duration
}

type endpoint struct {
	participant any
}

type nodeState struct {
	endpoints    map[string]endpoint
	disconnected bool
	fault        Fault
}

// Network routes calls between in-process nodes.
type Network struct {
	mu    sync.RWMutex
	nodes map[cluster.NodeID]*nodeState
}

func NewNetwork() *Network {
	return &Network{nodes: map[cluster.NodeID]*nodeState{}}
}

func (n *Network) state(node cluster.NodeID) *nodeState {
	s, ok := n.nodes[node]
	if !ok {
		s = &nodeState{endpoints: map[string]endpoint{}}
		n.nodes[node] = s
	}
	return s
}

// Register exposes the participant of a node's cache on the network.
func Register[K txcache.KeyConstraint, V txcache.ValueConstraint](n *Network, node cluster.NodeID, cacheName string, p transaction.Participant[K, V]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state(node).endpoints[cacheName] = endpoint{participant: p}
}

// Unregister removes the participant of a node's cache.
func (n *Network) Unregister(node cluster.NodeID, cacheName string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	s, ok := n.nodes[node]
	if !ok {
		return
	}
	delete(s.endpoints, cacheName)
}

// Disconnect makes every call to the node fail with ErrUnreachable until Reconnect.
func (n *Network) Disconnect(node cluster.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state(node).disconnected = true
}

func (n *Network) Reconnect(node cluster.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state(node).disconnected = false
}

// SetFault replaces the faults injected in front of the node. The zero Fault clears them.
func (n *Network) SetFault(node cluster.NodeID, f Fault) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state(node).fault = f
}

func (n *Network) lookup(node cluster.NodeID, cacheName string) (any, Fault, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	s, ok := n.nodes[node]
	if !ok || s.disconnected {
		return nil, Fault{}, fmt.Errorf("%w: %s", ErrUnreachable, node)
	}
	e, ok := s.endpoints[cacheName]
	if !ok {
		return nil, Fault{}, fmt.Errorf("%w: %s has no cache %q", ErrUnreachable, node, cacheName)
	}
	return e.participant, s.fault, nil
}

// Transport returns the transport reaching the cache named cacheName on every node of the network.
func Transport[K txcache.KeyConstraint, V txcache.ValueConstraint](n *Network, cacheName string) transaction.Transport[K, V] {
	return transaction.TransportFunc[K, V](func(node cluster.NodeID) (transaction.Participant[K, V], error) {
		if _, _, err := n.lookup(node, cacheName); err != nil {
			return nil, err
		}
		return &remote[K, V]{network: n, node: node, cacheName: cacheName}, nil
	})
}

// remote resolves the participant on every call, so a disconnect or a fault applies to calls
// made through a participant obtained before.
type remote[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	network   *Network
	node      cluster.NodeID
	cacheName string
}

func (r *remote[K, V]) resolve() (transaction.Participant[K, V], Fault, error) {
	p, fault, err := r.network.lookup(r.node, r.cacheName)
	if err != nil {
		return nil, fault, err
	}
	participant, ok := p.(transaction.Participant[K, V])
	if !ok {
		return nil, fault, fmt.Errorf("cache %q on %s: %w", r.cacheName, r.node, txcache.ErrCacheTypeMismatch)
	}
	return participant, fault, nil
}

func (r *remote[K, V]) Prepare(ctx context.Context, txID string, writes []txcache.Mutation[K, V]) error {
	p, fault, err := r.resolve()
	if err != nil {
		return err
	}
	if fault.PrepareDelay > 0 {
		t := time.NewTimer(fault.PrepareDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fault.FailPrepare != nil {
		return fault.FailPrepare
	}
	return p.Prepare(ctx, txID, writes)
}

func (r *remote[K, V]) Commit(ctx context.Context, txID string) error {
	p, fault, err := r.resolve()
	if err != nil {
		return err
	}
	if fault.FailCommit != nil {
		// the node lost the commit: its staged writes and locks are gone
		_ = p.Rollback(ctx, txID)
		return fault.FailCommit
	}
	return p.Commit(ctx, txID)
}

func (r *remote[K, V]) Rollback(ctx context.Context, txID string) error {
	p, _, err := r.resolve()
	if err != nil {
		return err
	}
	return p.Rollback(ctx, txID)
}

func (r *remote[K, V]) Get(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	p, _, err := r.resolve()
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, key)
}

func (r *remote[K, V]) Transfer(ctx context.Context, entries []*txcache.CacheEntry[K, V]) (int, error) {
	p, _, err := r.resolve()
	if err != nil {
		return 0, err
	}
	return p.Transfer(ctx, entries)
}

func (r *remote[K, V]) Expire(ctx context.Context, key K, version uint64) error {
	p, _, err := r.resolve()
	if err != nil {
		return err
	}
	return p.Expire(ctx, key, version)
}
