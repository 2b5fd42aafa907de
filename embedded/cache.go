package embedded

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/config"
	"github.com/karupanerura/txcache/internal/hlc"
	"github.com/karupanerura/txcache/internal/iterutil"
	"github.com/karupanerura/txcache/internal/keyhash"
	"github.com/karupanerura/txcache/loader/singleflightloader"
	"github.com/karupanerura/txcache/metrics"
	"github.com/karupanerura/txcache/notify"
	"github.com/karupanerura/txcache/reaper"
	"github.com/karupanerura/txcache/storage"
	"github.com/karupanerura/txcache/storage/memstorage"
	"github.com/karupanerura/txcache/transaction"
	"github.com/karupanerura/txcache/transport/inproc"
	"go.uber.org/zap"
)

// Cache is a named transactional cache on one node.
type Cache[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	name    string
	self    cluster.NodeID
	manager *CacheManager
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Cache
	hashKey keyhash.Func[K]

	// membership is the view of the nodes running this cache; its rings follow the cache's clustering config.
	membership *cluster.Membership
	transport  transaction.Transport[K, V]

	store    *memstorage.Store[K, V]
	remote   *singleflightloader.SingleFlightLoader[K, V]
	local    *transaction.LocalParticipant[K, V]
	notifier *notify.Notifier[K, V]
	txm      *transaction.Manager[K, V]
	reaper   *reaper.Reaper[K, V]

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe []func()
	stopOnce    sync.Once
	stopped     atomic.Bool
}

func newCache[K txcache.KeyConstraint, V txcache.ValueConstraint](m *CacheManager, name string, cfg *config.Config) *Cache[K, V] {
	logger := m.logger.With(zap.String("cache", name))
	ctx, cancel := context.WithCancel(m.ctx)
	c := &Cache[K, V]{
		name:    name,
		self:    m.self,
		manager: m,
		config:  cfg,
		logger:  logger,
		metrics: m.metrics.ForCache(name),
		hashKey: keyhash.For[K](),
		ctx:     ctx,
		cancel:  cancel,
	}

	ringOpts := []cluster.RingOption{cluster.WithVirtualNodes(cfg.Clustering.VirtualNodes)}
	numOwners := cfg.Clustering.NumOwners
	switch cfg.Clustering.Mode {
	case config.ModeReplSync:
		ringOpts = append(ringOpts, cluster.Replicated())
	case config.ModeLocal:
		numOwners = 1
	}
	c.membership = cluster.NewMembership(numOwners, cluster.WithLogger(logger), cluster.WithRingOptions(ringOpts...))

	var remote transaction.Transport[K, V]
	if m.options.network != nil && cfg.Clustering.Mode != config.ModeLocal {
		remote = inproc.Transport[K, V](m.options.network, name)
	}
	c.transport = transaction.TransportFunc[K, V](func(node cluster.NodeID) (transaction.Participant[K, V], error) {
		if node == c.self {
			return c.local, nil
		}
		if remote == nil {
			return nil, fmt.Errorf("node %s: no network", node)
		}
		return remote.Participant(node)
	})

	c.remote = singleflightloader.NewSingleFlightLoader(
		func(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error) {
			return c.readRemote(ctx, key, c.Owners(key))
		},
		singleflightloader.WithBackgroundContextProvider[K, V](func() context.Context {
			return c.ctx
		}),
	)

	versions := hlc.New(m.options.clock.Now)
	c.notifier = notify.NewNotifier[K, V](
		notify.WithLogger(logger),
		notify.WithMetrics(c.metrics),
		notify.WithErrorHandler(c.reportError),
	)
	c.store = memstorage.NewInMemoryStorage[K, V](
		memstorage.WithKeyHash[K, V](c.hashKey),
		memstorage.WithBucketsSize[K, V](cfg.Storage.Buckets),
		memstorage.WithClock[K, V](m.options.clock),
		memstorage.WithExpiredReadHook[K, V](func(key K) {
			c.reaper.Enqueue(c.ctx, key)
		}),
	)
	c.local = transaction.NewLocalParticipant[K, V](&storage.AnnotatedStorage[K, V]{Storage: c.store},
		transaction.WithLockTimeout[K, V](cfg.Transaction.LockTimeout),
		transaction.WithVersionClock[K, V](versions),
		transaction.WithParticipantLogger[K, V](logger),
		transaction.WithCommitHook(c.onCommit),
	)
	coordinator := transaction.NewCoordinator[K, V](c.membership.Topology, c.transport,
		transaction.WithPrepareTimeout[K, V](cfg.Transaction.PrepareTimeout),
		transaction.WithCommitTimeout[K, V](cfg.Transaction.CommitTimeout),
		transaction.WithClock[K, V](versions),
		transaction.WithKeyHash[K, V](c.hashKey),
		transaction.WithLogger[K, V](logger),
		transaction.WithMetrics[K, V](c.metrics),
	)
	c.txm = transaction.NewManager(coordinator, cfg.Transactional())
	c.reaper = reaper.New[K, V](c.self, c.store, c.notifier,
		reaper.WithInterval[K, V](cfg.Expiration.Reaper.WakeUpInterval),
		reaper.WithClock[K, V](m.options.clock),
		reaper.WithOwnership[K, V](c.Owners),
		reaper.WithTransport[K, V](c.transport),
		reaper.WithLogger[K, V](logger),
		reaper.WithMetrics[K, V](c.metrics),
		reaper.WithErrorHandler[K, V](c.reportError),
	)

	if m.options.network != nil {
		inproc.Register[K, V](m.options.network, c.self, name, c.local)
	}

	if cfg.Clustering.Mode == config.ModeLocal {
		c.membership.Join(c.self)
	} else {
		c.unsubscribe = append(c.unsubscribe,
			c.membership.Subscribe(c.rebalance),
			m.membership.Subscribe(func(t *cluster.Topology) {
				c.syncMembers(t.Ring.Members())
			}),
		)
		c.syncMembers(m.membership.Members())
	}
	return c
}

// syncMembers mirrors the members of the node's cluster view into the cache's own view.
func (c *Cache[K, V]) syncMembers(members []cluster.NodeID) {
	current := c.membership.Members()
	var joined, left []cluster.NodeID
	for _, n := range members {
		if !slices.Contains(current, n) {
			joined = append(joined, n)
		}
	}
	for _, n := range current {
		if !slices.Contains(members, n) {
			left = append(left, n)
		}
	}
	if len(left) > 0 {
		c.membership.Leave(left...)
	}
	if len(joined) > 0 {
		c.membership.Join(joined...)
	}
}

func (c *Cache[K, V]) start(ctx context.Context) {
	if c.config.Expiration.Reaper.IsEnabled() {
		c.reaper.Start(ctx)
	}
}

func (c *Cache[K, V]) stop(context.Context) error {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		for _, unsubscribe := range c.unsubscribe {
			unsubscribe()
		}
		c.reaper.Stop()
		if network := c.manager.options.network; network != nil {
			network.Unregister(c.self, c.name)
		}
		c.cancel()
		c.logger.Info("cache stopped", zap.Int("entries", c.store.Len()))
	})
	return nil
}

// Stop stops the cache on this node. Its entries are not handed over to other nodes.
func (c *Cache[K, V]) Stop(ctx context.Context) error {
	err := c.stop(ctx)
	c.manager.forget(c.name)
	return err
}

func (c *Cache[K, V]) Name() string {
	return c.name
}

// TransactionManager returns the manager of the transactions of this cache.
func (c *Cache[K, V]) TransactionManager() *transaction.Manager[K, V] {
	return c.txm
}

// Owners returns the nodes owning the key, primary first.
func (c *Cache[K, V]) Owners(key K) []cluster.NodeID {
	return c.membership.Topology().Owners(c.hashKey(key))
}

// IsPrimary reports whether this node is the primary owner of the key.
func (c *Cache[K, V]) IsPrimary(key K) bool {
	owners := c.Owners(key)
	return len(owners) > 0 && owners[0] == c.self
}

// AddListener registers a listener for the events of this cache on this node.
func (c *Cache[K, V]) AddListener(l notify.Listener[K, V], opts ...notify.ListenerOption) notify.ListenerID {
	return c.notifier.AddListener(l, opts...)
}

func (c *Cache[K, V]) RemoveListener(id notify.ListenerID) bool {
	return c.notifier.RemoveListener(id)
}

// Len returns the number of entries stored on this node, expired ones not yet reaped included.
func (c *Cache[K, V]) Len() int {
	return c.store.Len()
}

// Put writes the value. Inside a transaction the write is staged until commit.
func (c *Cache[K, V]) Put(ctx context.Context, key K, value V, opts ...WriteOption) error {
	var o writeOptions
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.lifespan == 0 {
		o.lifespan = c.config.Expiration.Lifespan
	}
	if o.maxIdle == 0 {
		o.maxIdle = c.config.Expiration.MaxIdle
	}
	return c.write(ctx, txcache.Mutation[K, V]{
		Key:      key,
		Value:    value,
		Lifespan: o.lifespan,
		MaxIdle:  o.maxIdle,
	})
}

// Remove deletes the key. Inside a transaction the removal is staged until commit.
func (c *Cache[K, V]) Remove(ctx context.Context, key K) error {
	return c.write(ctx, txcache.Mutation[K, V]{Key: key, Remove: true})
}

func (c *Cache[K, V]) write(ctx context.Context, m txcache.Mutation[K, V]) error {
	if c.stopped.Load() {
		return txcache.ErrCacheStopped
	}

	if tx, ok := c.txm.FromContext(ctx); ok {
		if len(c.Owners(m.Key)) == 0 {
			err := fmt.Errorf("key %v: %w", m.Key, txcache.ErrOwnershipUnavailable)
			tx.SetRollbackOnly(err)
			return err
		}
		return tx.Stage(m)
	}

	if c.config.Transactional() && !c.config.Transaction.AutoCommitEnabled() {
		return txcache.ErrNoTransaction
	}
	return c.txm.Implicit(ctx, func(tx *transaction.Transaction[K, V]) error {
		return tx.Stage(m)
	})
}

// Get reads the value of the key. Inside a transaction it sees the writes staged by the transaction.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if c.stopped.Load() {
		return zero, false, txcache.ErrCacheStopped
	}

	if tx, ok := c.txm.Active(ctx); ok {
		if m, ok := tx.Lookup(key); ok {
			if m.Remove {
				return zero, false, nil
			}
			return m.Value, true, nil
		}
	}

	e, err := c.read(ctx, key)
	if err != nil || e == nil {
		return zero, false, err
	}
	return e.Value, true, nil
}

// GetAll reads the keys and returns the values found. The keys this node is the primary owner of are read
// as one consistent snapshot; the others are read one by one from their owners.
// Inside a transaction it sees the writes staged by the transaction.
func (c *Cache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	if c.stopped.Load() {
		return nil, txcache.ErrCacheStopped
	}

	found := make(map[K]V, len(keys))
	pending := slices.Collect(iterutil.Uniq(slices.Values(keys)))
	if tx, ok := c.txm.Active(ctx); ok {
		pending = slices.DeleteFunc(pending, func(key K) bool {
			m, staged := tx.Lookup(key)
			if staged && !m.Remove {
				found[key] = m.Value
			}
			return staged
		})
	}

	topo := c.membership.Topology()
	local := slices.Collect(iterutil.Filter(slices.Values(pending), func(key K) bool {
		owners := topo.Owners(c.hashKey(key))
		return len(owners) == 0 || owners[0] == c.self
	}))
	entries, err := c.store.GetMulti(ctx, local)
	if err != nil {
		return nil, err
	}
	served := make(map[K]struct{}, len(local))
	for i, e := range entries {
		if e != nil {
			found[e.Key] = e.Value
			served[local[i]] = struct{}{}
		}
	}

	for _, key := range pending {
		if _, ok := served[key]; ok {
			continue
		}
		if slices.Contains(local, key) && !topo.Rebalancing {
			continue
		}
		e, err := c.read(ctx, key)
		if err != nil {
			return nil, err
		}
		if e != nil {
			found[key] = e.Value
		}
	}
	return found, nil
}

// read serves a committed entry from the primary owner, whose store keeps the last access time of the key.
// The local store answers when this node is the primary; other nodes ask the owners in order,
// reaching a backup only when the primary is unreachable.
// While a rebalance is in progress, a miss falls back to the previous owners.
func (c *Cache[K, V]) read(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	topo := c.membership.Topology()
	hash := c.hashKey(key)
	owners := topo.Owners(hash)

	if len(owners) == 0 || owners[0] == c.self {
		e, err := c.store.Get(ctx, key)
		if err != nil || e != nil {
			return e, err
		}
	} else {
		e, err := c.remote.Load(ctx, key)
		if err != nil || e != nil {
			return e, err
		}
	}

	if previous := topo.PreviousOwners(hash); len(previous) > 0 {
		e, err := c.readRemote(ctx, key, slices.DeleteFunc(previous, func(n cluster.NodeID) bool {
			return n == c.self || slices.Contains(owners, n)
		}))
		if err == nil {
			return e, nil
		}
		c.logger.Debug("read from previous owners failed", zap.Error(err))
	}
	return nil, nil
}

// readRemote tries the owners in order and returns the first answer.
func (c *Cache[K, V]) readRemote(ctx context.Context, key K, owners []cluster.NodeID) (*txcache.CacheEntry[K, V], error) {
	var errs []error
	for _, node := range owners {
		p, err := c.transport.Participant(node)
		if err == nil {
			var e *txcache.CacheEntry[K, V]
			if e, err = p.Get(ctx, key); err == nil {
				return e, nil
			}
		}
		errs = append(errs, fmt.Errorf("read from %s: %w", node, err))
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return nil, fmt.Errorf("key %v: %w: %w", key, txcache.ErrOwnershipUnavailable, errors.Join(errs...))
}

func (c *Cache[K, V]) reportError(err error) {
	if f := c.manager.options.onError; f != nil {
		f(err)
	}
}
