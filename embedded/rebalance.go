package embedded

import (
	"fmt"
	"slices"
	"sync"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/internal/iterutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type handoff[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	entry   *txcache.CacheEntry[K, V]
	targets []cluster.NodeID
	keep    bool
}

// rebalance pushes the local entries to the owners that did not own them in the previous ring,
// then drops the entries this node no longer owns. An entry is kept while any of its transfers failed.
func (c *Cache[K, V]) rebalance(t *cluster.Topology) {
	if t.Previous == nil || c.stopped.Load() {
		return
	}
	ctx := c.ctx

	entries, err := c.store.Snapshot(ctx)
	if err != nil {
		c.reportError(fmt.Errorf("rebalance snapshot: %w", err))
		return
	}

	plan := make([]*handoff[K, V], 0, len(entries))
	for _, e := range entries {
		hash := c.hashKey(e.Key)
		owners := t.Owners(hash)
		plan = append(plan, &handoff[K, V]{
			entry: e,
			targets: slices.Collect(iterutil.Difference(
				slices.Values(owners),
				slices.Values(t.Previous.Owners(hash)),
				slices.Values([]cluster.NodeID{c.self}),
			)),
			keep: len(owners) == 0 || slices.Contains(owners, c.self),
		})
	}

	nodes, batches := iterutil.GroupBy(slices.Values(plan), func(h *handoff[K, V]) []cluster.NodeID {
		return h.targets
	})

	var (
		mu          sync.Mutex
		failed      []cluster.NodeID
		transferred int
	)
	var eg errgroup.Group
	for _, node := range nodes {
		batch := batches[node]
		eg.Go(func() error {
			n, err := c.transfer(node, batch)
			mu.Lock()
			defer mu.Unlock()
			transferred += n
			if err != nil {
				failed = append(failed, node)
				c.reportError(err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	c.metrics.Transferred(transferred)

	droppable := iterutil.Filter(slices.Values(plan), func(h *handoff[K, V]) bool {
		return !h.keep && !slices.ContainsFunc(h.targets, func(n cluster.NodeID) bool { return slices.Contains(failed, n) })
	})
	var dropped int
	for h := range droppable {
		removed, err := c.store.RemoveVersion(ctx, h.entry.Key, h.entry.Version)
		if err != nil {
			c.reportError(fmt.Errorf("rebalance drop %v: %w", h.entry.Key, err))
			continue
		}
		if removed != nil {
			dropped++
		}
	}

	c.logger.Info("rebalanced",
		zap.Uint64("topology", t.ID),
		zap.Int("entries", len(entries)),
		zap.Int("transferred", transferred),
		zap.Int("dropped", dropped),
		zap.Stringers("failed", failed),
	)
}

func (c *Cache[K, V]) transfer(node cluster.NodeID, batch []*handoff[K, V]) (int, error) {
	p, err := c.transport.Participant(node)
	if err != nil {
		return 0, fmt.Errorf("transfer to %s: %w", node, err)
	}
	entries := slices.Collect(iterutil.Map(slices.Values(batch), func(h *handoff[K, V]) *txcache.CacheEntry[K, V] {
		return h.entry
	}))
	n, err := p.Transfer(c.ctx, entries)
	if err != nil {
		return n, fmt.Errorf("transfer to %s: %w", node, err)
	}
	return n, nil
}
