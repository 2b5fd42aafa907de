package embedded

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/config"
	"github.com/karupanerura/txcache/metrics"
	"go.uber.org/zap"
)

// managedCache is the type-erased view of a Cache kept by its manager.
type managedCache interface {
	Name() string
	start(ctx context.Context)
	stop(ctx context.Context) error
}

// CacheManager is one node of a cache cluster.
type CacheManager struct {
	self       cluster.NodeID
	membership *cluster.Membership
	options    options
	metrics    *metrics.Metrics
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	definitions map[string]*config.Config
	caches      map[string]managedCache
	started     bool
	stopped     bool
}

// NewCacheManager creates a node. The node joins its membership on Start.
func NewCacheManager(opts ...Option) (*CacheManager, error) {
	o := options{
		logger: zap.NewNop(),
		clock:  txcache.SystemClock,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}

	if o.nodeID == "" {
		o.nodeID = cluster.NodeID(uuid.NewString())
	}
	if o.config == nil {
		o.config = config.Default()
	} else {
		cfg := *o.config
		cfg.PopulateDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("default configuration: %w", err)
		}
		o.config = &cfg
	}

	logger := o.logger.With(zap.Stringer("node", o.nodeID))
	if o.membership == nil {
		o.membership = cluster.NewMembership(1, cluster.WithLogger(logger))
	}

	var m *metrics.Metrics
	if o.registerer != nil {
		var err error
		if m, err = metrics.New(o.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CacheManager{
		self:        o.nodeID,
		membership:  o.membership,
		options:     o,
		metrics:     m,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		definitions: map[string]*config.Config{},
		caches:      map[string]managedCache{},
	}, nil
}

// NodeID returns the id of the node.
func (m *CacheManager) NodeID() cluster.NodeID {
	return m.self
}

// Membership returns the cluster view of the node.
func (m *CacheManager) Membership() *cluster.Membership {
	return m.membership
}

// DefineConfiguration sets the configuration of the named cache.
// It must be called before the cache is first obtained with GetCache.
func (m *CacheManager) DefineConfiguration(name string, cfg *config.Config) error {
	c := *cfg
	c.PopulateDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("cache %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return txcache.ErrCacheStopped
	}
	if _, ok := m.caches[name]; ok {
		return fmt.Errorf("cache %q is already running", name)
	}
	m.definitions[name] = &c
	return nil
}

func (m *CacheManager) configuration(name string) *config.Config {
	if cfg, ok := m.definitions[name]; ok {
		return cfg
	}
	return m.options.config
}

// GetCache returns the named cache of the manager, creating it on first use.
// A name always maps to the key and value types it was created with.
func GetCache[K txcache.KeyConstraint, V txcache.ValueConstraint](m *CacheManager, name string) (*Cache[K, V], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, txcache.ErrCacheStopped
	}
	if existing, ok := m.caches[name]; ok {
		c, ok := existing.(*Cache[K, V])
		if !ok {
			return nil, fmt.Errorf("cache %q: %w", name, txcache.ErrCacheTypeMismatch)
		}
		return c, nil
	}

	c := newCache[K, V](m, name, m.configuration(name))
	m.caches[name] = c
	if m.started {
		c.start(m.ctx)
	}
	return c, nil
}

// Start joins the node to the cluster and starts the background work of every cache.
func (m *CacheManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	caches := slices.Collect(maps.Values(m.caches))
	m.mu.Unlock()

	m.membership.Join(m.self)
	for _, c := range caches {
		c.start(m.ctx)
	}
	m.logger.Info("cache manager started", zap.Int("caches", len(caches)))
}

// Stop leaves the cluster, handing the entries of the node over to the remaining owners, then stops every cache.
func (m *CacheManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	started := m.started
	caches := slices.Collect(maps.Values(m.caches))
	m.mu.Unlock()

	if started {
		m.membership.Leave(m.self)
	}

	var errs []error
	for _, c := range caches {
		if err := c.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop cache %q: %w", c.Name(), err))
		}
	}
	m.cancel()
	m.logger.Info("cache manager stopped")
	return errors.Join(errs...)
}

func (m *CacheManager) forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.caches, name)
}
