package reaper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/expiration"
	"github.com/karupanerura/txcache/internal/panicutil"
	"github.com/karupanerura/txcache/metrics"
	"github.com/karupanerura/txcache/notify"
	"github.com/karupanerura/txcache/storage/memstorage"
	"github.com/karupanerura/txcache/transaction"
	"go.uber.org/zap"
)

// DefaultInterval is the default wake-up interval.
var DefaultInterval = time.Minute

// Store is the part of the entry store the reaper works on.
type Store[K txcache.KeyConstraint, V txcache.ValueConstraint] interface {
	Expired(now time.Time) []memstorage.Expiry[K]
	RemoveExpired(ctx context.Context, key K, now time.Time, idle bool) (*txcache.CacheEntry[K, V], expiration.Reason)
}

var _ Store[string, int] = (*memstorage.Store[string, int])(nil)

// Reaper periodically removes expired entries from a node's store.
// On the primary owner of a key it emits the EXPIRED event and removes the entry from the other owners;
// elsewhere it only drops entries whose lifespan passed, without any event.
type Reaper[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	self     cluster.NodeID
	store    Store[K, V]
	notifier *notify.Notifier[K, V]
	options  options[K, V]

	queue   chan K
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reaper for the store of node self.
func New[K txcache.KeyConstraint, V txcache.ValueConstraint](self cluster.NodeID, store Store[K, V], notifier *notify.Notifier[K, V], opts ...Option[K, V]) *Reaper[K, V] {
	o := defaultOptions[K, V]()
	for _, opt := range opts {
		opt.apply(&o)
	}
	return &Reaper[K, V]{
		self:     self,
		store:    store,
		notifier: notifier,
		options:  o,
		queue:    make(chan K, o.queueSize),
	}
}

// Start launches the background loop. It is a no-op if the loop is already running.
// The loop stops on Stop or when ctx is canceled.
func (r *Reaper[K, V]) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running.Store(true)
	go r.run(ctx, r.done)
}

// Stop stops the background loop and waits for the running cycle to finish.
func (r *Reaper[K, V]) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	r.running.Store(false)
}

// Running reports whether the background loop is running.
func (r *Reaper[K, V]) Running() bool {
	return r.running.Load()
}

// run keeps the loop alive: a panic is reported and the loop restarts,
// and a goroutine exit from a listener relaunches it on a new goroutine.
func (r *Reaper[K, V]) run(ctx context.Context, done chan struct{}) {
	relaunched := false
	defer func() {
		if !relaunched {
			close(done)
		}
	}()

	for {
		err := panicutil.Guard(func() error {
			r.poll(ctx)
			return nil
		}, func() {
			relaunched = true
			go r.run(ctx, done)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.reportError(fmt.Errorf("reaper cycle: %w", err))
		}
	}
}

// poll runs a cycle at every interval and reaps queued keys as soon as they arrive.
func (r *Reaper[K, V]) poll(ctx context.Context) {
	ticker := time.NewTicker(r.options.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			r.RunOnce(ctx)

		case key := <-r.queue:
			r.reapKey(ctx, key, r.options.clock.Now())
		}
	}
}

// RunOnce scans the store once and reaps every expired entry. It returns the number of removed entries.
// Running it again over keys already reaped removes nothing and emits nothing.
func (r *Reaper[K, V]) RunOnce(ctx context.Context) int {
	started := time.Now()
	now := r.options.clock.Now()

	var removed int
	for _, e := range r.store.Expired(now) {
		if ctx.Err() != nil {
			break
		}
		if r.reapKey(ctx, e.Key, now) {
			removed++
		}
	}

	elapsed := time.Since(started)
	r.options.metrics.ReaperCycle(elapsed)
	r.options.logger.Debug("reaper cycle finished", zap.Int("removed", removed), zap.Duration("elapsed", elapsed))
	return removed
}

// Enqueue asks for the key to be reaped, typically after a read found it expired.
// With the loop running the key is reaped on the loop goroutine; otherwise it is reaped before Enqueue returns.
func (r *Reaper[K, V]) Enqueue(ctx context.Context, key K) {
	if !r.running.Load() {
		r.reapKey(ctx, key, r.options.clock.Now())
		return
	}
	select {
	case r.queue <- key:
	default:
		// the next cycle finds it
	}
}

func (r *Reaper[K, V]) reapKey(ctx context.Context, key K, now time.Time) bool {
	owners := r.options.owners(key)
	primary := len(owners) == 0 || owners[0] == r.self

	entry, reason := r.store.RemoveExpired(ctx, key, now, primary)
	if entry == nil {
		return false
	}
	r.options.metrics.Expired(reason.String())
	if !primary {
		return true
	}

	r.notifier.Notify(ctx, notify.Event[K, V]{
		Kind:    notify.Expired,
		Key:     key,
		Value:   entry.Value,
		Version: entry.Version,
		Primary: true,
	})

	for _, node := range owners[min(1, len(owners)):] {
		if node == r.self {
			continue
		}
		if err := r.propagate(ctx, node, key, entry.Version); err != nil {
			r.reportError(err)
		}
	}
	return true
}

func (r *Reaper[K, V]) propagate(ctx context.Context, node cluster.NodeID, key K, version uint64) error {
	if r.options.transport == nil {
		return nil
	}
	p, err := r.options.transport.Participant(node)
	if err != nil {
		return fmt.Errorf("expire %v on %s: %w", key, node, err)
	}
	if err := p.Expire(ctx, key, version); err != nil {
		return fmt.Errorf("expire %v on %s: %w", key, node, err)
	}
	return nil
}

func (r *Reaper[K, V]) reportError(err error) {
	r.options.logger.Warn("reaper error", zap.Error(err))
	if r.options.onBackgroundError != nil {
		r.options.onBackgroundError(err)
	}
}

// Option configures a Reaper.
type Option[K txcache.KeyConstraint, V txcache.ValueConstraint] interface {
	apply(*options[K, V])
}

type optionFunc[K txcache.KeyConstraint, V txcache.ValueConstraint] func(*options[K, V])

func (f optionFunc[K, V]) apply(o *options[K, V]) {
	f(o)
}

type options[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	interval          time.Duration
	clock             txcache.Clock
	owners            func(K) []cluster.NodeID
	transport         transaction.Transport[K, V]
	logger            *zap.Logger
	metrics           *metrics.Cache
	onBackgroundError func(error)
	queueSize         int
}

func defaultOptions[K txcache.KeyConstraint, V txcache.ValueConstraint]() options[K, V] {
	return options[K, V]{
		interval:  DefaultInterval,
		clock:     txcache.SystemClock,
		owners:    func(K) []cluster.NodeID { return nil },
		logger:    zap.NewNop(),
		queueSize: 1024,
	}
}

// WithInterval sets the wake-up interval. It must be positive.
func WithInterval[K txcache.KeyConstraint, V txcache.ValueConstraint](d time.Duration) Option[K, V] {
	if d <= 0 {
		panic("reaper interval must be positive")
	}
	return optionFunc[K, V](func(o *options[K, V]) {
		o.interval = d
	})
}

// WithClock sets the clock deciding expiration.
func WithClock[K txcache.KeyConstraint, V txcache.ValueConstraint](clock txcache.Clock) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.clock = clock
	})
}

// WithOwnership sets the function returning the owners of a key, primary first.
// Without it, the node is the primary owner of every key.
func WithOwnership[K txcache.KeyConstraint, V txcache.ValueConstraint](owners func(K) []cluster.NodeID) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.owners = owners
	})
}

// WithTransport sets the transport used to remove expired entries from the other owners.
func WithTransport[K txcache.KeyConstraint, V txcache.ValueConstraint](transport transaction.Transport[K, V]) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.transport = transport
	})
}

// WithLogger sets the logger.
func WithLogger[K txcache.KeyConstraint, V txcache.ValueConstraint](logger *zap.Logger) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.logger = logger
	})
}

// WithMetrics sets the recorder of cycles and removals.
func WithMetrics[K txcache.KeyConstraint, V txcache.ValueConstraint](m *metrics.Cache) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.metrics = m
	})
}

// WithErrorHandler sets a function receiving the errors of background work.
func WithErrorHandler[K txcache.KeyConstraint, V txcache.ValueConstraint](f func(error)) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.onBackgroundError = f
	})
}
