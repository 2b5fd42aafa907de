package transaction_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/storage/memstorage"
	"github.com/karupanerura/txcache/transaction"
)

var errInjected = errors.New("injected fault")

// faultyParticipant wraps a participant with injectable failures.
type faultyParticipant struct {
	transaction.Participant[string, int]

	mu           sync.Mutex
	failPrepare  error
	failCommit   error
	prepareDelay time.Duration
}

func (p *faultyParticipant) set(f func(*faultyParticipant)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(p)
}

func (p *faultyParticipant) Prepare(ctx context.Context, txID string, writes []txcache.Mutation[string, int]) error {
	p.mu.Lock()
	failPrepare, delay := p.failPrepare, p.prepareDelay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failPrepare != nil {
		return failPrepare
	}
	return p.Participant.Prepare(ctx, txID, writes)
}

func (p *faultyParticipant) Commit(ctx context.Context, txID string) error {
	p.mu.Lock()
	failCommit := p.failCommit
	p.mu.Unlock()

	if failCommit != nil {
		_ = p.Participant.Rollback(ctx, txID)
		return failCommit
	}
	return p.Participant.Commit(ctx, txID)
}

type node struct {
	id          cluster.NodeID
	store       *memstorage.Store[string, int]
	local       *transaction.LocalParticipant[string, int]
	participant *faultyParticipant
}

type testCluster struct {
	membership *cluster.Membership
	nodes      map[cluster.NodeID]*node
}

func newTestCluster(t *testing.T, numOwners int, ids ...cluster.NodeID) *testCluster {
	t.Helper()

	c := &testCluster{
		membership: cluster.NewMembership(numOwners),
		nodes:      map[cluster.NodeID]*node{},
	}
	for _, id := range ids {
		store := memstorage.NewInMemoryStorage[string, int]()
		local := transaction.NewLocalParticipant[string, int](store, transaction.WithLockTimeout[string, int](200*time.Millisecond))
		c.nodes[id] = &node{id: id, store: store, local: local, participant: &faultyParticipant{Participant: local}}
	}
	c.membership.Join(ids...)
	return c
}

func (c *testCluster) transport() transaction.Transport[string, int] {
	return transaction.TransportFunc[string, int](func(id cluster.NodeID) (transaction.Participant[string, int], error) {
		n, ok := c.nodes[id]
		if !ok {
			return nil, fmt.Errorf("node %s unreachable", id)
		}
		return n.participant, nil
	})
}

func (c *testCluster) manager(opts ...transaction.CoordinatorOption[string, int]) *transaction.Manager[string, int] {
	return transaction.NewManager(transaction.NewCoordinator(c.membership.Topology, c.transport(), opts...), true)
}

// values returns the committed value of the key on every node storing it.
func (c *testCluster) values(t *testing.T, key string) map[cluster.NodeID]int {
	t.Helper()

	values := map[cluster.NodeID]int{}
	for id, n := range c.nodes {
		e, err := n.store.Peek(t.Context(), key)
		if err != nil {
			t.Fatal(err)
		}
		if e != nil {
			values[id] = e.Value
		}
	}
	return values
}

// keyOwnedBy returns a key whose owners are exactly the given nodes, primary first.
func (c *testCluster) keyOwnedBy(t *testing.T, hash func(string) uint64, owners ...cluster.NodeID) string {
	t.Helper()

	ring := c.membership.Ring()
	for i := range 10000 {
		key := fmt.Sprintf("key-%d", i)
		got := ring.Owners(hash(key))
		if len(got) != len(owners) {
			continue
		}
		match := true
		for j := range got {
			if got[j] != owners[j] {
				match = false
				break
			}
		}
		if match {
			return key
		}
	}
	t.Fatalf("no key owned by %v", owners)
	return ""
}
