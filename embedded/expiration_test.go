package embedded_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/config"
	"github.com/karupanerura/txcache/embedded"
	"github.com/karupanerura/txcache/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expiryLatch counts EXPIRED events and fails the test on any event beyond the expected count.
type expiryLatch struct {
	t    *testing.T
	want int32

	count atomic.Int32
	mu    sync.Mutex
	at    map[string]time.Time
}

func newExpiryLatch(t *testing.T, want int32) *expiryLatch {
	return &expiryLatch{t: t, want: want, at: map[string]time.Time{}}
}

func (l *expiryLatch) OnCacheEvent(_ context.Context, ev notify.Event[string, string]) error {
	if ev.Kind != notify.Expired {
		l.t.Errorf("unexpected %s event for %q", ev.Kind, ev.Key)
		return nil
	}
	if n := l.count.Add(1); n > l.want {
		l.t.Errorf("surplus EXPIRED event for %q (%d > %d)", ev.Key, n, l.want)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.at[ev.Key]; ok {
		l.t.Errorf("duplicate EXPIRED event for %q", ev.Key)
	}
	l.at[ev.Key] = time.Now()
	return nil
}

func TestExpirationAcrossNodes(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	tc := newTestCluster(t, distConfig())
	c1 := startedCache(t, tc.node("node-1"), "expiring")
	c2 := startedCache(t, tc.node("node-2"), "expiring")

	latch := newExpiryLatch(t, 2)
	c1.AddListener(latch, notify.PrimaryOnly(), notify.Kinds(notify.Expired))
	c2.AddListener(latch, notify.PrimaryOnly(), notify.Kinds(notify.Expired))

	assert.ErrorIs(t, c1.Put(ctx, "test1", "value"), txcache.ErrNoTransaction, "auto commit is disabled")

	committed := map[string]time.Time{}
	for _, key := range []string{"test1", "test2"} {
		err := c1.TransactionManager().Run(ctx, func(ctx context.Context) error {
			return c1.Put(ctx, key, "value-"+key, embedded.WithLifespan(time.Second))
		})
		require.NoError(t, err)
		committed[key] = time.Now()
	}

	for _, c := range []*embedded.Cache[string, string]{c1, c2} {
		v, ok, err := c.Get(ctx, "test1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "value-test1", v)
		assert.Equal(t, 2, c.Len(), "both nodes own every key")
	}

	require.Eventually(t, func() bool {
		return latch.count.Load() == 2
	}, 5*time.Second, 20*time.Millisecond)

	latch.mu.Lock()
	for key, at := range latch.at {
		assert.GreaterOrEqual(t, at.Sub(committed[key]), 900*time.Millisecond, "%q expired before its lifespan", key)
	}
	latch.mu.Unlock()

	assert.Eventually(t, func() bool {
		return c1.Len() == 0 && c2.Len() == 0
	}, 2*time.Second, 20*time.Millisecond)

	// a few more reaper cycles must not emit anything
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, int32(2), latch.count.Load())

	_, ok, err := c2.Get(ctx, "test2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpirationOnRead(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	cfg := distConfig()
	cfg.Expiration.Reaper.Enabled = config.Bool(false)
	tc := newTestCluster(t, cfg)
	c := startedCache(t, tc.node("node-1"), "lazy")

	rec := &recorder{}
	c.AddListener(rec, notify.Kinds(notify.Expired))

	require.NoError(t, c.TransactionManager().Run(ctx, func(ctx context.Context) error {
		return c.Put(ctx, "k", "v", embedded.WithLifespan(50*time.Millisecond))
	}))
	time.Sleep(100 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	events := rec.snapshot()
	require.Len(t, events, 1, "reading an expired entry reaps it")
	assert.Equal(t, notify.Expired, events[0].Kind)
	assert.True(t, events[0].Primary)
	assert.Zero(t, c.Len())
}

func TestMaxIdleCountsReadsOnEveryNode(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	cfg := distConfig()
	cfg.Expiration.Reaper.Enabled = config.Bool(false)
	clock := txcache.NewManualClock(time.Now())
	tc := newTestCluster(t, cfg)
	c1 := startedCache(t, tc.node("node-1", embedded.WithClock(clock)), "idle")
	c2 := startedCache(t, tc.node("node-2", embedded.WithClock(clock)), "idle")

	primary, backup := c1, c2
	if !c1.IsPrimary("k") {
		primary, backup = c2, c1
	}
	primaryEvents, backupEvents := &recorder{}, &recorder{}
	primary.AddListener(primaryEvents, notify.Kinds(notify.Expired))
	backup.AddListener(backupEvents, notify.Kinds(notify.Expired))

	require.NoError(t, primary.TransactionManager().Run(ctx, func(ctx context.Context) error {
		return primary.Put(ctx, "k", "v", embedded.WithLifespan(-1), embedded.WithMaxIdle(time.Second))
	}))

	for range 6 {
		clock.Advance(500 * time.Millisecond)
		_, ok, err := backup.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok, "an entry read within its max idle stays alive")
	}
	_, ok, err := primary.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "reads on the backup count as accesses on the primary")

	clock.Advance(1500 * time.Millisecond)
	_, ok, err = backup.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	events := primaryEvents.snapshot()
	require.Len(t, events, 1)
	assert.True(t, events[0].Primary)
	assert.Empty(t, backupEvents.snapshot())
	assert.Zero(t, primary.Len())
	assert.Zero(t, backup.Len())
}

func TestExpiredEventsOnlyFromPrimary(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	tc := newTestCluster(t, distConfig())
	c1 := startedCache(t, tc.node("node-1"), "silent-backups")
	c2 := startedCache(t, tc.node("node-2"), "silent-backups")

	rec1, rec2 := &recorder{}, &recorder{}
	c1.AddListener(rec1, notify.Kinds(notify.Expired))
	c2.AddListener(rec2, notify.Kinds(notify.Expired))

	require.NoError(t, c1.TransactionManager().Run(ctx, func(ctx context.Context) error {
		for _, k := range keys(10) {
			if err := c1.Put(ctx, k, "v", embedded.WithLifespan(300*time.Millisecond)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.Eventually(t, func() bool {
		return c1.Len() == 0 && c2.Len() == 0 && len(rec1.snapshot())+len(rec2.snapshot()) >= 10
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(600 * time.Millisecond)

	seen := map[string]int{}
	for node, rec := range map[*embedded.Cache[string, string]]*recorder{c1: rec1, c2: rec2} {
		for _, ev := range rec.snapshot() {
			assert.True(t, ev.Primary, "%q expired on a backup with an event", ev.Key)
			assert.True(t, node.IsPrimary(ev.Key), "%q expired with an event on a non-primary node", ev.Key)
			seen[ev.Key]++
		}
	}
	for _, k := range keys(10) {
		assert.Equal(t, 1, seen[k], "EXPIRED events for %q", k)
	}
	assert.Len(t, seen, 10)
}
