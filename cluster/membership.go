package cluster

import (
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Topology is a snapshot of the cluster view.
// While Rebalancing is set, entries may still live on the owners of the Previous ring.
type Topology struct {
	ID          uint64
	Ring        *Ring
	Previous    *Ring
	Rebalancing bool
}

// Owners returns the owners of the key hash in the current ring.
func (t *Topology) Owners(hash uint64) []NodeID {
	return t.Ring.Owners(hash)
}

// PreviousOwners returns the owners of the key hash in the previous ring while rebalancing.
func (t *Topology) PreviousOwners(hash uint64) []NodeID {
	if !t.Rebalancing || t.Previous == nil {
		return nil
	}
	return t.Previous.Owners(hash)
}

// Subscriber is called with every new topology before the rebalance is marked complete.
type Subscriber func(*Topology)

// Membership tracks the live members and publishes a new Topology on every change.
type Membership struct {
	topology atomic.Pointer[Topology]

	// changeMu serializes topology changes and their subscriber calls.
	changeMu sync.Mutex

	subMu       sync.RWMutex
	subscribers map[int]Subscriber
	nextSub     int

	logger *zap.Logger
}

// MembershipOption configures a Membership.
type MembershipOption interface {
	apply(*membershipOptions)
}

type membershipOptionFunc func(*membershipOptions)

func (f membershipOptionFunc) apply(o *membershipOptions) {
	f(o)
}

type membershipOptions struct {
	logger   *zap.Logger
	ringOpts []RingOption
}

// WithLogger sets the logger of the membership.
func WithLogger(logger *zap.Logger) MembershipOption {
	return membershipOptionFunc(func(o *membershipOptions) {
		o.logger = logger
	})
}

// WithRingOptions sets the options for every ring built by the membership.
func WithRingOptions(opts ...RingOption) MembershipOption {
	return membershipOptionFunc(func(o *membershipOptions) {
		o.ringOpts = append(o.ringOpts, opts...)
	})
}

// NewMembership creates an empty membership whose rings have numOwners owners per key.
func NewMembership(numOwners int, opts ...MembershipOption) *Membership {
	o := membershipOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt.apply(&o)
	}

	m := &Membership{
		subscribers: map[int]Subscriber{},
		logger:      o.logger,
	}
	m.topology.Store(&Topology{Ring: NewRing(nil, numOwners, o.ringOpts...)})
	return m
}

// Topology returns the current topology.
func (m *Membership) Topology() *Topology {
	return m.topology.Load()
}

// Ring returns the current ring.
func (m *Membership) Ring() *Ring {
	return m.Topology().Ring
}

// Members returns the current members.
func (m *Membership) Members() []NodeID {
	return m.Ring().Members()
}

// Subscribe registers a function called on every topology change and returns a function removing it.
func (m *Membership) Subscribe(f Subscriber) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = f
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subscribers, id)
	}
}

// Join adds the nodes to the membership.
func (m *Membership) Join(nodes ...NodeID) {
	m.change(func(members []NodeID) []NodeID {
		return append(members, nodes...)
	})
}

// Leave removes the nodes from the membership.
func (m *Membership) Leave(nodes ...NodeID) {
	m.change(func(members []NodeID) []NodeID {
		return slices.DeleteFunc(members, func(n NodeID) bool {
			return slices.Contains(nodes, n)
		})
	})
}

func (m *Membership) change(f func([]NodeID) []NodeID) {
	m.changeMu.Lock()
	defer m.changeMu.Unlock()

	current := m.Topology()
	ring := current.Ring.with(f(current.Ring.Members()))
	if slices.Equal(ring.members, current.Ring.members) {
		return
	}

	next := &Topology{
		ID:          current.ID + 1,
		Ring:        ring,
		Previous:    current.Ring,
		Rebalancing: current.Ring.Len() != 0,
	}
	m.topology.Store(next)
	m.logger.Info("topology changed",
		zap.Uint64("topology", next.ID),
		zap.Int("members", ring.Len()),
		zap.Bool("rebalancing", next.Rebalancing),
	)

	for _, sub := range m.snapshotSubscribers() {
		sub(next)
	}

	if next.Rebalancing {
		m.topology.Store(&Topology{ID: next.ID, Ring: ring})
		m.logger.Info("rebalance completed", zap.Uint64("topology", next.ID))
	}
}

func (m *Membership) snapshotSubscribers() []Subscriber {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	ids := make([]int, 0, len(m.subscribers))
	for id := range m.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	subs := make([]Subscriber, len(ids))
	for i, id := range ids {
		subs[i] = m.subscribers[id]
	}
	return subs
}
