package embedded

import (
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/config"
	"github.com/karupanerura/txcache/transport/inproc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a CacheManager.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

type options struct {
	nodeID     cluster.NodeID
	membership *cluster.Membership
	network    *inproc.Network
	config     *config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer
	clock      txcache.Clock
	onError    func(error)
}

// WithNodeID sets the id of the node. It defaults to a random UUID.
func WithNodeID(id cluster.NodeID) Option {
	return optionFunc(func(o *options) {
		o.nodeID = id
	})
}

// WithMembership sets the cluster view the node joins on Start.
// Nodes sharing a process may share one Membership; otherwise feed it with cluster.GossipEvents.
func WithMembership(m *cluster.Membership) Option {
	return optionFunc(func(o *options) {
		o.membership = m
	})
}

// WithNetwork sets the network the caches are exposed on and reach the other nodes through.
func WithNetwork(n *inproc.Network) Option {
	return optionFunc(func(o *options) {
		o.network = n
	})
}

// WithConfig sets the configuration of caches without their own definition.
func WithConfig(cfg *config.Config) Option {
	return optionFunc(func(o *options) {
		o.config = cfg
	})
}

func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// WithRegisterer registers the cache metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return optionFunc(func(o *options) {
		o.registerer = reg
	})
}

func WithClock(clock txcache.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = clock
	})
}

// WithErrorHandler sets a function receiving the errors of background work:
// listener failures, reaper propagation and rebalance transfers.
func WithErrorHandler(f func(error)) Option {
	return optionFunc(func(o *options) {
		o.onError = f
	})
}

// WriteOption configures a single write.
type WriteOption interface {
	apply(*writeOptions)
}

type writeOptionFunc func(*writeOptions)

func (f writeOptionFunc) apply(o *writeOptions) {
	f(o)
}

type writeOptions struct {
	lifespan time.Duration
	maxIdle  time.Duration
}

// WithLifespan sets how long the entry lives after its commit.
// Zero keeps the configured default; a negative duration makes the entry immortal.
func WithLifespan(d time.Duration) WriteOption {
	return writeOptionFunc(func(o *writeOptions) {
		o.lifespan = d
	})
}

// WithMaxIdle sets how long the entry lives without being read.
// Zero keeps the configured default; a negative duration disables idle expiration.
func WithMaxIdle(d time.Duration) WriteOption {
	return writeOptionFunc(func(o *writeOptions) {
		o.maxIdle = d
	})
}
