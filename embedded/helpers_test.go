package embedded_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/config"
	"github.com/karupanerura/txcache/embedded"
	"github.com/karupanerura/txcache/notify"
	"github.com/karupanerura/txcache/transport/inproc"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testCluster runs nodes sharing one membership and one in-process network.
type testCluster struct {
	t          *testing.T
	membership *cluster.Membership
	network    *inproc.Network
	config     *config.Config
}

func newTestCluster(t *testing.T, cfg *config.Config) *testCluster {
	t.Helper()
	return &testCluster{
		t:          t,
		membership: cluster.NewMembership(1, cluster.WithLogger(zaptest.NewLogger(t))),
		network:    inproc.NewNetwork(),
		config:     cfg,
	}
}

func (c *testCluster) node(id cluster.NodeID, opts ...embedded.Option) *embedded.CacheManager {
	c.t.Helper()

	opts = append([]embedded.Option{
		embedded.WithNodeID(id),
		embedded.WithMembership(c.membership),
		embedded.WithNetwork(c.network),
		embedded.WithConfig(c.config),
		embedded.WithLogger(zaptest.NewLogger(c.t)),
	}, opts...)
	m, err := embedded.NewCacheManager(opts...)
	require.NoError(c.t, err)
	c.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

func distConfig() *config.Config {
	return &config.Config{
		Clustering: config.ClusteringConfig{Mode: config.ModeDistSync, NumOwners: 2},
		Transaction: config.TransactionConfig{
			Mode:           config.Transactional,
			AutoCommit:     config.Bool(false),
			PrepareTimeout: time.Second,
			CommitTimeout:  time.Second,
			LockTimeout:    500 * time.Millisecond,
		},
		Expiration: config.ExpirationConfig{
			Lifespan: 20 * time.Second,
			Reaper:   config.ReaperConfig{WakeUpInterval: 200 * time.Millisecond},
		},
	}
}

func startedCache(t *testing.T, m *embedded.CacheManager, name string) *embedded.Cache[string, string] {
	t.Helper()

	c, err := embedded.GetCache[string, string](m, name)
	require.NoError(t, err)
	m.Start(t.Context())
	return c
}

// recorder is a listener keeping every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event[string, string]
}

func (r *recorder) OnCacheEvent(_ context.Context, ev notify.Event[string, string]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []notify.Event[string, string] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event[string, string](nil), r.events...)
}

func keys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%02d", i)
	}
	return keys
}
