// Package metrics exposes cache activity as prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is the namespace of every collector.
var DefaultNamespace = "txcache"

// Transaction outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeHeuristic  = "heuristic"
)

// Metrics holds the collectors shared by all caches of a process.
type Metrics struct {
	transactions     *prometheus.CounterVec
	expired          *prometheus.CounterVec
	listenerFailures *prometheus.CounterVec
	reaperCycle      *prometheus.HistogramVec
	transferred      *prometheus.CounterVec
}

// New creates the collectors and registers them to reg.
// Collectors already registered by another instance are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Name:      "transactions_total",
			Help:      "Transactions finished, partitioned by cache and outcome",
		}, []string{"cache", "outcome"}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Name:      "expired_entries_total",
			Help:      "Entries removed by expiration, partitioned by cache and reason",
		}, []string{"cache", "reason"}),
		listenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Name:      "listener_failures_total",
			Help:      "Listener callbacks that returned an error or panicked",
		}, []string{"cache"}),
		reaperCycle: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: DefaultNamespace,
			Name:      "reaper_cycle_duration_seconds",
			Help:      "Duration of reaper cycles",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"cache"}),
		transferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultNamespace,
			Name:      "transferred_entries_total",
			Help:      "Entries pushed to new owners during rebalance",
		}, []string{"cache"}),
	}

	if reg == nil {
		return m, nil
	}
	var err error
	m.transactions, err = register(reg, m.transactions, err)
	m.expired, err = register(reg, m.expired, err)
	m.listenerFailures, err = register(reg, m.listenerFailures, err)
	m.reaperCycle, err = register(reg, m.reaperCycle, err)
	m.transferred, err = register(reg, m.transferred, err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c unless an earlier registration failed.
// If an equal collector is already registered, that one is returned instead.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, err error) (C, error) {
	if err != nil {
		return c, err
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ForCache returns the recorder of one cache.
func (m *Metrics) ForCache(name string) *Cache {
	if m == nil {
		return nil
	}
	return &Cache{m: m, name: name}
}

// Cache records the activity of one cache. A nil *Cache records nothing.
type Cache struct {
	m    *Metrics
	name string
}

// Transaction counts a finished transaction.
func (c *Cache) Transaction(outcome string) {
	if c == nil {
		return
	}
	c.m.transactions.WithLabelValues(c.name, outcome).Inc()
}

// Expired counts an entry removed by expiration.
func (c *Cache) Expired(reason string) {
	if c == nil {
		return
	}
	c.m.expired.WithLabelValues(c.name, reason).Inc()
}

// ListenerFailure counts a failed listener callback.
func (c *Cache) ListenerFailure() {
	if c == nil {
		return
	}
	c.m.listenerFailures.WithLabelValues(c.name).Inc()
}

// ReaperCycle records the duration of a reaper cycle.
func (c *Cache) ReaperCycle(d time.Duration) {
	if c == nil {
		return
	}
	c.m.reaperCycle.WithLabelValues(c.name).Observe(d.Seconds())
}

// Transferred counts entries pushed to new owners.
func (c *Cache) Transferred(n int) {
	if c == nil || n == 0 {
		return
	}
	c.m.transferred.WithLabelValues(c.name).Add(float64(n))
}

// ListenerFailures returns the listener failure counter of the cache.
func (c *Cache) ListenerFailures() prometheus.Counter {
	return c.m.listenerFailures.WithLabelValues(c.name)
}

// TransactionsCounter returns the transaction counter of the cache for the outcome.
func (c *Cache) TransactionsCounter(outcome string) prometheus.Counter {
	return c.m.transactions.WithLabelValues(c.name, outcome)
}
