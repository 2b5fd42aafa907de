package transaction_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/internal/keyhash"
	"github.com/karupanerura/txcache/metrics"
	"github.com/karupanerura/txcache/transaction"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var hashString = keyhash.For[string]()

func put(key string, value int) txcache.Mutation[string, int] {
	return txcache.Mutation[string, int]{Key: key, Value: value, Lifespan: time.Minute}
}

func TestCoordinator_CommitReachesAllOwners(t *testing.T) {
	t.Parallel()

	c := newTestCluster(t, 2, "n1", "n2", "n3")
	m := c.manager()

	ctx, err := m.Begin(t.Context())
	require.NoError(t, err)
	tx, ok := m.FromContext(ctx)
	require.True(t, ok)
	require.NoError(t, tx.Stage(put("k1", 1)))
	require.NoError(t, tx.Stage(put("k2", 2)))
	require.NoError(t, tx.Stage(put("k1", 10)))

	staged, ok := tx.Lookup("k1")
	require.True(t, ok)
	assert.Equal(t, 10, staged.Value, "later writes of a key replace earlier ones")
	assert.Empty(t, c.values(t, "k1"), "staged writes must be invisible before commit")

	before := time.Now()
	require.NoError(t, m.Commit(ctx))
	assert.Equal(t, transaction.StatusCommitted, tx.Status())

	for key, want := range map[string]int{"k1": 10, "k2": 2} {
		owners := c.membership.Ring().Owners(hashString(key))
		values := c.values(t, key)
		require.Len(t, values, 2, "key %s must be stored on both owners", key)
		var version uint64
		for _, owner := range owners {
			assert.Equal(t, want, values[owner])
			e, err := c.nodes[owner].store.Peek(t.Context(), key)
			require.NoError(t, err)
			assert.False(t, e.Created.Before(before), "lifespan must start at commit")
			if version == 0 {
				version = e.Version
			}
			assert.Equal(t, version, e.Version, "owners must agree on the version")
		}
	}
	for _, n := range c.nodes {
		assert.Zero(t, n.local.Prepared())
	}
}

func TestCoordinator_PrepareFailureRollsBackEverywhere(t *testing.T) {
	t.Parallel()

	c := newTestCluster(t, 2, "n1", "n2", "n3")
	reg := prometheus.NewRegistry()
	mt, err := metrics.New(reg)
	require.NoError(t, err)
	m := c.manager(transaction.WithMetrics[string, int](mt.ForCache("test")))

	key := c.keyOwnedBy(t, hashString, "n1", "n2")
	other := c.keyOwnedBy(t, hashString, "n3", "n1")
	c.nodes["n2"].participant.set(func(p *faultyParticipant) { p.failPrepare = errInjected })

	err = m.Run(t.Context(), func(ctx context.Context) error {
		tx, _ := m.FromContext(ctx)
		if err := tx.Stage(put(key, 1)); err != nil {
			return err
		}
		return tx.Stage(put(other, 2))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, txcache.ErrRollback)
	assert.ErrorIs(t, err, errInjected)
	var rerr *transaction.RollbackError
	require.ErrorAs(t, err, &rerr)

	assert.Empty(t, c.values(t, key))
	assert.Empty(t, c.values(t, other))
	for id, n := range c.nodes {
		assert.Zero(t, n.local.Prepared(), "node %s kept a prepared transaction", id)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.ForCache("test").TransactionsCounter(metrics.OutcomeRolledBack)))

	c.nodes["n2"].participant.set(func(p *faultyParticipant) { p.failPrepare = nil })
	require.NoError(t, m.Run(t.Context(), func(ctx context.Context) error {
		tx, _ := m.FromContext(ctx)
		return tx.Stage(put(key, 3))
	}), "locks must be released by the rollback")
	assert.Len(t, c.values(t, key), 2)
}

func TestCoordinator_PrepareTimeout(t *testing.T) {
	t.Parallel()

	c := newTestCluster(t, 2, "n1", "n2")
	m := c.manager(transaction.WithPrepareTimeout[string, int](50 * time.Millisecond))
	c.nodes["n1"].participant.set(func(p *faultyParticipant) { p.prepareDelay = time.Second })

	started := time.Now()
	err := m.Run(t.Context(), func(ctx context.Context) error {
		tx, _ := m.FromContext(ctx)
		return tx.Stage(put("k", 1))
	})
	assert.Less(t, time.Since(started), time.Second)
	assert.ErrorIs(t, err, txcache.ErrRollback)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, c.values(t, "k"))
}

func TestCoordinator_CallerCancellationDuringPrepare(t *testing.T) {
	t.Parallel()

	c := newTestCluster(t, 1, "n1")
	m := c.manager()
	c.nodes["n1"].participant.set(func(p *faultyParticipant) { p.prepareDelay = time.Second })

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	txCtx, err := m.Begin(ctx)
	require.NoError(t, err)
	tx, _ := m.FromContext(txCtx)
	require.NoError(t, tx.Stage(put("k", 1)))

	err = m.Commit(txCtx)
	assert.ErrorIs(t, err, txcache.ErrRollback)
	assert.Equal(t, transaction.StatusRolledBack, tx.Status())
	assert.Empty(t, c.values(t, "k"))
}

func TestCoordinator_HeuristicOutcomes(t *testing.T) {
	t.Parallel()

	t.Run("mixed", func(t *testing.T) {
		t.Parallel()

		c := newTestCluster(t, 3, "n1", "n2", "n3")
		m := c.manager()
		c.nodes["n3"].participant.set(func(p *faultyParticipant) { p.failCommit = errInjected })

		txCtx, err := m.Begin(t.Context())
		require.NoError(t, err)
		tx, _ := m.FromContext(txCtx)
		require.NoError(t, tx.Stage(put("k", 1)))

		err = m.Commit(txCtx)
		assert.ErrorIs(t, err, txcache.ErrHeuristicMixed)
		assert.NotErrorIs(t, err, txcache.ErrRollback)
		var herr *transaction.HeuristicError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, []cluster.NodeID{"n1", "n2"}, herr.Committed)
		assert.Equal(t, []cluster.NodeID{"n3"}, herr.Failed)
		assert.Equal(t, transaction.StatusUnknown, tx.Status())

		values := c.values(t, "k")
		assert.Equal(t, map[cluster.NodeID]int{"n1": 1, "n2": 1}, values)
	})

	t.Run("rollback", func(t *testing.T) {
		t.Parallel()

		c := newTestCluster(t, 2, "n1", "n2")
		m := c.manager()
		for _, n := range c.nodes {
			n.participant.set(func(p *faultyParticipant) { p.failCommit = errInjected })
		}

		err := m.Run(t.Context(), func(ctx context.Context) error {
			tx, _ := m.FromContext(ctx)
			return tx.Stage(put("k", 1))
		})
		assert.ErrorIs(t, err, txcache.ErrHeuristicRollback)
		assert.NotErrorIs(t, err, txcache.ErrHeuristicMixed)
		assert.Empty(t, c.values(t, "k"))
	})
}

func TestCoordinator_OwnershipUnavailable(t *testing.T) {
	t.Parallel()

	t.Run("empty cluster", func(t *testing.T) {
		t.Parallel()

		c := newTestCluster(t, 2)
		m := c.manager()
		err := m.Run(t.Context(), func(ctx context.Context) error {
			tx, _ := m.FromContext(ctx)
			return tx.Stage(put("k", 1))
		})
		assert.ErrorIs(t, err, txcache.ErrOwnershipUnavailable)
		assert.ErrorIs(t, err, txcache.ErrRollback)
	})

	t.Run("unreachable owner", func(t *testing.T) {
		t.Parallel()

		c := newTestCluster(t, 2, "n1", "n2")
		m := c.manager()
		delete(c.nodes, "n2")

		err := m.Run(t.Context(), func(ctx context.Context) error {
			tx, _ := m.FromContext(ctx)
			return tx.Stage(put("k", 1))
		})
		assert.ErrorIs(t, err, txcache.ErrOwnershipUnavailable)
		assert.Empty(t, c.values(t, "k"))
	})
}

func TestCoordinator_LockConflict(t *testing.T) {
	t.Parallel()

	c := newTestCluster(t, 1, "n1")
	m := c.manager()
	local := c.nodes["n1"].local

	require.NoError(t, local.Prepare(t.Context(), "other", []txcache.Mutation[string, int]{put("k", 1)}))
	err := m.Run(t.Context(), func(ctx context.Context) error {
		tx, _ := m.FromContext(ctx)
		return tx.Stage(put("k", 2))
	})
	assert.ErrorIs(t, err, txcache.ErrRollback)
	assert.ErrorIs(t, err, txcache.ErrLockTimeout)

	require.NoError(t, local.Commit(t.Context(), "other"))
	assert.Equal(t, map[cluster.NodeID]int{"n1": 1}, c.values(t, "k"))
}

func TestCoordinator_ConcurrentReadersNeverSeePartialCommit(t *testing.T) {
	t.Parallel()

	c := newTestCluster(t, 1, "n1")
	m := c.manager()
	store := c.nodes["n1"].store
	keys := []string{"a", "b", "c", "d"}

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error {
		for i := 1; ctx.Err() == nil; i++ {
			err := m.Run(context.WithoutCancel(ctx), func(ctx context.Context) error {
				tx, _ := m.FromContext(ctx)
				for _, key := range keys {
					if err := tx.Stage(put(key, i)); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	for range 4 {
		eg.Go(func() error {
			for ctx.Err() == nil {
				entries, err := store.GetMulti(context.Background(), keys)
				if err != nil {
					return err
				}
				for _, e := range entries[1:] {
					if (entries[0] == nil) != (e == nil) || (e != nil && e.Value != entries[0].Value) {
						return errors.New("observed a partially applied transaction")
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func TestCoordinator_RollbackOnly(t *testing.T) {
	t.Parallel()

	c := newTestCluster(t, 1, "n1")
	m := c.manager()
	cause := errors.New("staged write rejected")

	err := m.Run(t.Context(), func(ctx context.Context) error {
		tx, _ := m.FromContext(ctx)
		if err := tx.Stage(put("k", 1)); err != nil {
			return err
		}
		tx.SetRollbackOnly(cause)
		return nil
	})
	assert.ErrorIs(t, err, txcache.ErrRollback)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, c.values(t, "k"))
}
