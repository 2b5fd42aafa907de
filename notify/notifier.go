package notify

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/internal/panicutil"
	"github.com/karupanerura/txcache/metrics"
	"go.uber.org/zap"
)

// ListenerID identifies a registration.
type ListenerID uint64

// ListenerOption configures a registration.
type ListenerOption interface {
	apply(*filter)
}

type listenerOptionFunc func(*filter)

func (f listenerOptionFunc) apply(o *filter) {
	f(o)
}

type filter struct {
	primaryOnly bool
	phase       Phase
	kinds       []Kind
}

// PrimaryOnly delivers events only on the primary owner of the key,
// so each event is received once in the whole cluster.
func PrimaryOnly() ListenerOption {
	return listenerOptionFunc(func(f *filter) {
		f.primaryOnly = true
	})
}

// Observe selects the phases delivered to the listener. The default is Both.
func Observe(phase Phase) ListenerOption {
	return listenerOptionFunc(func(f *filter) {
		f.phase = phase
	})
}

// Kinds restricts the listener to the given kinds.
func Kinds(kinds ...Kind) ListenerOption {
	return listenerOptionFunc(func(f *filter) {
		f.kinds = kinds
	})
}

func (f *filter) match(kind Kind, pre, primary bool) bool {
	if f.primaryOnly && !primary {
		return false
	}
	// expiration is only observable after the fact
	if pre && kind == Expired {
		return false
	}
	return f.phase.has(pre) && slices.Contains(f.kinds, kind)
}

type registration[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	id       ListenerID
	listener Listener[K, V]
	filter   filter
}

// Option configures a Notifier.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

type options struct {
	logger  *zap.Logger
	metrics *metrics.Cache
	onError func(error)
}

// WithLogger sets the logger listener failures are written to.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// WithMetrics sets the recorder counting listener failures.
func WithMetrics(m *metrics.Cache) Option {
	return optionFunc(func(o *options) {
		o.metrics = m
	})
}

// WithErrorHandler sets a function receiving every *ListenerError.
func WithErrorHandler(f func(error)) Option {
	return optionFunc(func(o *options) {
		o.onError = f
	})
}

// Notifier dispatches events to registered listeners.
// Registration is copy-on-write, so dispatch never blocks on it.
type Notifier[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	mu            sync.Mutex
	registrations atomic.Pointer[[]*registration[K, V]]
	nextID        ListenerID
	options       options
}

// NewNotifier creates a notifier without listeners.
func NewNotifier[K txcache.KeyConstraint, V txcache.ValueConstraint](opts ...Option) *Notifier[K, V] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt.apply(&o)
	}

	n := &Notifier[K, V]{options: o}
	n.registrations.Store(&[]*registration[K, V]{})
	return n
}

// AddListener registers the listener and returns its id.
// Without Kinds, a Hooks listener is subscribed to the kinds it has callbacks for, any other to all kinds.
func (n *Notifier[K, V]) AddListener(l Listener[K, V], opts ...ListenerOption) ListenerID {
	f := filter{phase: Both}
	if h, ok := l.(*Hooks[K, V]); ok {
		f.kinds = h.kinds()
	} else {
		f.kinds = AllKinds()
	}
	for _, opt := range opts {
		opt.apply(&f)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	current := *n.registrations.Load()
	next := make([]*registration[K, V], len(current), len(current)+1)
	copy(next, current)
	next = append(next, &registration[K, V]{id: n.nextID, listener: l, filter: f})
	n.registrations.Store(&next)
	return n.nextID
}

// RemoveListener unregisters the listener and reports whether it was registered.
func (n *Notifier[K, V]) RemoveListener(id ListenerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	current := *n.registrations.Load()
	i := slices.IndexFunc(current, func(r *registration[K, V]) bool {
		return r.id == id
	})
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(current), i, i+1)
	n.registrations.Store(&next)
	return true
}

// Len returns the number of registered listeners.
func (n *Notifier[K, V]) Len() int {
	return len(*n.registrations.Load())
}

// Wants reports whether any listener would receive an event of the kind and phase.
func (n *Notifier[K, V]) Wants(kind Kind, pre, primary bool) bool {
	for _, r := range *n.registrations.Load() {
		if r.filter.match(kind, pre, primary) {
			return true
		}
	}
	return false
}

// Notify delivers the event to every matching listener in registration order and
// returns when all of them have returned. Failures are reported, never returned.
// It returns the number of listeners that failed.
func (n *Notifier[K, V]) Notify(ctx context.Context, ev Event[K, V]) int {
	var failures int
	for _, r := range *n.registrations.Load() {
		if !r.filter.match(ev.Kind, ev.Pre, ev.Primary) {
			continue
		}
		err := panicutil.Guard(func() error {
			return r.listener.OnCacheEvent(ctx, ev)
		}, nil)
		if err != nil {
			failures++
			n.report(&ListenerError{Listener: r.id, Kind: ev.Kind, Key: ev.Key, Pre: ev.Pre, Cause: err})
		}
	}
	return failures
}

func (n *Notifier[K, V]) report(err *ListenerError) {
	n.options.logger.Warn("listener failed",
		zap.Uint64("listener", uint64(err.Listener)),
		zap.Stringer("kind", err.Kind),
		zap.Any("key", err.Key),
		zap.Bool("pre", err.Pre),
		zap.Error(err.Cause),
	)
	n.options.metrics.ListenerFailure()
	if n.options.onError != nil {
		n.options.onError(err)
	}
}
