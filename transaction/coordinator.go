package transaction

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/cluster"
	"github.com/karupanerura/txcache/internal/hlc"
	"github.com/karupanerura/txcache/internal/iterutil"
	"github.com/karupanerura/txcache/internal/keyhash"
	"github.com/karupanerura/txcache/metrics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// DefaultPrepareTimeout bounds the whole prepare phase.
	DefaultPrepareTimeout = 15 * time.Second

	// DefaultCommitTimeout bounds the commit and rollback phases.
	DefaultCommitTimeout = 15 * time.Second
)

// CoordinatorOption configures a Coordinator.
type CoordinatorOption[K txcache.KeyConstraint, V txcache.ValueConstraint] interface {
	apply(*Coordinator[K, V])
}

type coordinatorOptionFunc[K txcache.KeyConstraint, V txcache.ValueConstraint] func(*Coordinator[K, V])

func (f coordinatorOptionFunc[K, V]) apply(c *Coordinator[K, V]) {
	f(c)
}

// WithPrepareTimeout sets the bound of the prepare phase.
func WithPrepareTimeout[K txcache.KeyConstraint, V txcache.ValueConstraint](d time.Duration) CoordinatorOption[K, V] {
	return coordinatorOptionFunc[K, V](func(c *Coordinator[K, V]) {
		c.prepareTimeout = d
	})
}

// WithCommitTimeout sets the bound of the commit and rollback phases.
func WithCommitTimeout[K txcache.KeyConstraint, V txcache.ValueConstraint](d time.Duration) CoordinatorOption[K, V] {
	return coordinatorOptionFunc[K, V](func(c *Coordinator[K, V]) {
		c.commitTimeout = d
	})
}

// WithClock sets the clock versions are issued from.
func WithClock[K txcache.KeyConstraint, V txcache.ValueConstraint](clock *hlc.Clock) CoordinatorOption[K, V] {
	return coordinatorOptionFunc[K, V](func(c *Coordinator[K, V]) {
		c.clock = clock
	})
}

// WithKeyHash sets the hash placing keys on the ring.
func WithKeyHash[K txcache.KeyConstraint, V txcache.ValueConstraint](f keyhash.Func[K]) CoordinatorOption[K, V] {
	return coordinatorOptionFunc[K, V](func(c *Coordinator[K, V]) {
		c.hashKey = f
	})
}

// WithLogger sets the logger of the coordinator.
func WithLogger[K txcache.KeyConstraint, V txcache.ValueConstraint](logger *zap.Logger) CoordinatorOption[K, V] {
	return coordinatorOptionFunc[K, V](func(c *Coordinator[K, V]) {
		c.logger = logger
	})
}

// WithMetrics sets the recorder of transaction outcomes.
func WithMetrics[K txcache.KeyConstraint, V txcache.ValueConstraint](m *metrics.Cache) CoordinatorOption[K, V] {
	return coordinatorOptionFunc[K, V](func(c *Coordinator[K, V]) {
		c.metrics = m
	})
}

// Coordinator runs the two-phase commit of transactions started on its node.
type Coordinator[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	topology  func() *cluster.Topology
	transport Transport[K, V]

	hashKey        keyhash.Func[K]
	clock          *hlc.Clock
	prepareTimeout time.Duration
	commitTimeout  time.Duration
	logger         *zap.Logger
	metrics        *metrics.Cache
}

// NewCoordinator creates a coordinator sending writes to the owners in the topology returned by topology.
func NewCoordinator[K txcache.KeyConstraint, V txcache.ValueConstraint](topology func() *cluster.Topology, transport Transport[K, V], opts ...CoordinatorOption[K, V]) *Coordinator[K, V] {
	c := &Coordinator[K, V]{
		topology:       topology,
		transport:      transport,
		hashKey:        keyhash.For[K](),
		prepareTimeout: DefaultPrepareTimeout,
		commitTimeout:  DefaultCommitTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	if c.clock == nil {
		c.clock = hlc.New(nil)
	}
	return c
}

type branch[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	node        cluster.NodeID
	participant Participant[K, V]
	writes      []txcache.Mutation[K, V]
}

// plan groups the writes by owner node.
func (c *Coordinator[K, V]) plan(writes []txcache.Mutation[K, V]) ([]branch[K, V], error) {
	topo := c.topology()
	for _, w := range writes {
		if len(topo.Owners(c.hashKey(w.Key))) == 0 {
			return nil, fmt.Errorf("key %v: %w", w.Key, txcache.ErrOwnershipUnavailable)
		}
	}

	nodes, groups := iterutil.GroupBy(slices.Values(writes), func(w txcache.Mutation[K, V]) []cluster.NodeID {
		return topo.Owners(c.hashKey(w.Key))
	})
	branches := make([]branch[K, V], 0, len(nodes))
	for _, node := range nodes {
		p, err := c.transport.Participant(node)
		if err != nil {
			return nil, fmt.Errorf("owner %s: %w: %w", node, txcache.ErrOwnershipUnavailable, err)
		}
		branches = append(branches, branch[K, V]{node: node, participant: p, writes: groups[node]})
	}
	return branches, nil
}

// Commit runs the two-phase commit of the transaction.
// A failed prepare rolls back every owner and returns a *RollbackError.
// Once every owner prepared, the commit phase ignores the cancellation of ctx;
// owners failing to commit produce a *HeuristicError.
func (c *Coordinator[K, V]) Commit(ctx context.Context, tx *Transaction[K, V]) error {
	if err := tx.transition(StatusPreparing); err != nil {
		return err
	}
	logger := c.logger.With(zap.String("tx", tx.ID()))

	if cause := tx.RollbackOnly(); cause != nil {
		return c.rolledBack(logger, tx, cause)
	}

	writes := tx.Writes()
	if len(writes) == 0 {
		return c.committed(logger, tx)
	}
	version := c.clock.Next()
	for i := range writes {
		writes[i].Version = version
	}

	branches, err := c.plan(writes)
	if err != nil {
		return c.rolledBack(logger, tx, err)
	}

	if err := c.prepare(ctx, tx.ID(), branches); err != nil {
		c.rollback(ctx, logger, tx.ID(), branches)
		return c.rolledBack(logger, tx, err)
	}

	committed, failed, err := c.commit(ctx, tx.ID(), branches)
	if err != nil {
		c.rollback(ctx, logger, tx.ID(), slices.DeleteFunc(branches, func(b branch[K, V]) bool {
			return !slices.Contains(failed, b.node)
		}))
		herr := &HeuristicError{TxID: tx.ID(), Committed: committed, Failed: failed, Cause: err}
		if terr := tx.transition(StatusUnknown); terr != nil {
			return errors.Join(herr, terr)
		}
		logger.Error("heuristic transaction outcome",
			zap.Stringers("committed", committed),
			zap.Stringers("failed", failed),
			zap.Error(err),
		)
		c.metrics.Transaction(metrics.OutcomeHeuristic)
		return herr
	}
	return c.committed(logger, tx)
}

func (c *Coordinator[K, V]) prepare(ctx context.Context, txID string, branches []branch[K, V]) error {
	ctx, cancel := context.WithTimeout(ctx, c.prepareTimeout)
	defer cancel()

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, b := range branches {
		p.Go(func(ctx context.Context) error {
			if err := b.participant.Prepare(ctx, txID, b.writes); err != nil {
				return fmt.Errorf("prepare on %s: %w", b.node, err)
			}
			return nil
		})
	}
	return p.Wait()
}

func (c *Coordinator[K, V]) commit(ctx context.Context, txID string, branches []branch[K, V]) (committed, failed []cluster.NodeID, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		errs []error
		eg   errgroup.Group
	)
	for _, b := range branches {
		eg.Go(func() error {
			err := b.participant.Commit(ctx, txID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, b.node)
				errs = append(errs, fmt.Errorf("commit on %s: %w", b.node, err))
			} else {
				committed = append(committed, b.node)
			}
			return nil
		})
	}
	_ = eg.Wait()

	slices.Sort(committed)
	slices.Sort(failed)
	return committed, failed, errors.Join(errs...)
}

// rollback tells every branch to discard the transaction. Failures are logged only.
func (c *Coordinator[K, V]) rollback(ctx context.Context, logger *zap.Logger, txID string, branches []branch[K, V]) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout)
	defer cancel()

	var eg errgroup.Group
	for _, b := range branches {
		eg.Go(func() error {
			if err := b.participant.Rollback(ctx, txID); err != nil {
				logger.Warn("rollback failed", zap.Stringer("node", b.node), zap.Error(err))
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (c *Coordinator[K, V]) committed(logger *zap.Logger, tx *Transaction[K, V]) error {
	if err := tx.transition(StatusCommitted); err != nil {
		return err
	}
	logger.Debug("transaction committed")
	c.metrics.Transaction(metrics.OutcomeCommitted)
	return nil
}

func (c *Coordinator[K, V]) rolledBack(logger *zap.Logger, tx *Transaction[K, V], cause error) error {
	rerr := &RollbackError{TxID: tx.ID(), Cause: cause}
	if err := tx.transition(StatusRolledBack); err != nil {
		return errors.Join(rerr, err)
	}
	logger.Warn("transaction rolled back", zap.Error(cause))
	c.metrics.Transaction(metrics.OutcomeRolledBack)
	return rerr
}
