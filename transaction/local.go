package transaction

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/internal/ctxsync"
	"github.com/karupanerura/txcache/internal/hlc"
	"github.com/karupanerura/txcache/internal/keyhash"
	"go.uber.org/zap"
)

// DefaultLockTimeout bounds the acquisition of every key lock during prepare.
var DefaultLockTimeout = 10 * time.Second

// CommitHook is called by a LocalParticipant with the changes of a commit,
// after the key locks of the transaction are released.
type CommitHook[K txcache.KeyConstraint, V txcache.ValueConstraint] func(ctx context.Context, changes []txcache.Change[K, V])

// ParticipantOption configures a LocalParticipant.
type ParticipantOption[K txcache.KeyConstraint, V txcache.ValueConstraint] interface {
	apply(*participantOptions[K, V])
}

type participantOptionFunc[K txcache.KeyConstraint, V txcache.ValueConstraint] func(*participantOptions[K, V])

func (f participantOptionFunc[K, V]) apply(o *participantOptions[K, V]) {
	f(o)
}

type participantOptions[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	lockTimeout time.Duration
	onCommit    CommitHook[K, V]
	clock       *hlc.Clock
	hashKey     keyhash.Func[K]
	logger      *zap.Logger
}

// WithLockTimeout sets how long prepare waits for each key lock.
func WithLockTimeout[K txcache.KeyConstraint, V txcache.ValueConstraint](d time.Duration) ParticipantOption[K, V] {
	return participantOptionFunc[K, V](func(o *participantOptions[K, V]) {
		o.lockTimeout = d
	})
}

// WithCommitHook sets the hook receiving the changes of every local commit.
func WithCommitHook[K txcache.KeyConstraint, V txcache.ValueConstraint](hook CommitHook[K, V]) ParticipantOption[K, V] {
	return participantOptionFunc[K, V](func(o *participantOptions[K, V]) {
		o.onCommit = hook
	})
}

// WithVersionClock sets the clock that observes the versions of prepared writes.
func WithVersionClock[K txcache.KeyConstraint, V txcache.ValueConstraint](clock *hlc.Clock) ParticipantOption[K, V] {
	return participantOptionFunc[K, V](func(o *participantOptions[K, V]) {
		o.clock = clock
	})
}

// WithParticipantLogger sets the logger of the participant.
func WithParticipantLogger[K txcache.KeyConstraint, V txcache.ValueConstraint](logger *zap.Logger) ParticipantOption[K, V] {
	return participantOptionFunc[K, V](func(o *participantOptions[K, V]) {
		o.logger = logger
	})
}

type prepared[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	writes []txcache.Mutation[K, V]
	keys   []K
}

// LocalParticipant serves the transactions of one node's entry store.
type LocalParticipant[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	store   txcache.EntryStore[K, V]
	locks   *ctxsync.KeyLocker[K]
	options participantOptions[K, V]

	mu       sync.Mutex
	prepared map[string]*prepared[K, V]
}

var _ Participant[string, struct{}] = (*LocalParticipant[string, struct{}])(nil)

// NewLocalParticipant creates a participant applying committed writes to the store.
func NewLocalParticipant[K txcache.KeyConstraint, V txcache.ValueConstraint](store txcache.EntryStore[K, V], opts ...ParticipantOption[K, V]) *LocalParticipant[K, V] {
	o := participantOptions[K, V]{
		lockTimeout: DefaultLockTimeout,
		hashKey:     keyhash.For[K](),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return &LocalParticipant[K, V]{
		store:    store,
		locks:    ctxsync.NewKeyLocker[K](),
		options:  o,
		prepared: map[string]*prepared[K, V]{},
	}
}

// Prepare locks every key of the writes, in hash order, and stages them.
func (p *LocalParticipant[K, V]) Prepare(ctx context.Context, txID string, writes []txcache.Mutation[K, V]) error {
	p.mu.Lock()
	if _, ok := p.prepared[txID]; ok {
		p.mu.Unlock()
		return fmt.Errorf("prepare transaction %s twice: %w", txID, txcache.ErrInvalidTransactionState)
	}
	p.mu.Unlock()

	keys := make([]K, len(writes))
	for i, w := range writes {
		keys[i] = w.Key
	}
	slices.SortStableFunc(keys, func(a, b K) int {
		ha, hb := p.options.hashKey(a), p.options.hashKey(b)
		switch {
		case ha < hb:
			return -1
		case ha > hb:
			return 1
		default:
			return 0
		}
	})

	lockCtx, cancel := context.WithTimeout(ctx, p.options.lockTimeout)
	defer cancel()
	if err := p.locks.LockAllCtx(lockCtx, keys); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("prepare transaction %s: %w", txID, txcache.ErrLockTimeout)
		}
		return fmt.Errorf("prepare transaction %s: %w", txID, err)
	}

	if p.options.clock != nil {
		for _, w := range writes {
			p.options.clock.Observe(w.Version)
		}
	}

	p.mu.Lock()
	p.prepared[txID] = &prepared[K, V]{writes: slices.Clone(writes), keys: keys}
	p.mu.Unlock()
	return nil
}

func (p *LocalParticipant[K, V]) take(txID string) (*prepared[K, V], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx, ok := p.prepared[txID]
	if ok {
		delete(p.prepared, txID)
	}
	return tx, ok
}

// Commit applies the staged writes atomically, releases their locks and then runs the commit hook.
func (p *LocalParticipant[K, V]) Commit(ctx context.Context, txID string) error {
	tx, ok := p.take(txID)
	if !ok {
		return fmt.Errorf("commit transaction %s: %w", txID, txcache.ErrUnknownTransaction)
	}

	changes, err := p.store.Apply(ctx, tx.writes)
	p.locks.UnlockAll(tx.keys)
	if err != nil {
		return fmt.Errorf("commit transaction %s: %w", txID, err)
	}
	if p.options.onCommit != nil && len(changes) > 0 {
		p.options.onCommit(ctx, changes)
	}
	return nil
}

// Rollback releases the locks of a prepared transaction.
func (p *LocalParticipant[K, V]) Rollback(_ context.Context, txID string) error {
	tx, ok := p.take(txID)
	if !ok {
		return nil
	}
	p.locks.UnlockAll(tx.keys)
	p.options.logger.Debug("transaction rolled back on participant", zap.String("tx", txID))
	return nil
}

// Get reads a committed entry from the store.
func (p *LocalParticipant[K, V]) Get(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	return p.store.Get(ctx, key)
}

// Transfer installs entries pushed by another node.
func (p *LocalParticipant[K, V]) Transfer(ctx context.Context, entries []*txcache.CacheEntry[K, V]) (int, error) {
	if p.options.clock != nil {
		for _, e := range entries {
			if e != nil {
				p.options.clock.Observe(e.Version)
			}
		}
	}
	return p.store.Install(ctx, entries)
}

// Expire removes the entry on behalf of its primary owner unless it was rewritten after the given version.
// The removal is silent: the primary owner emits the only EXPIRED event.
func (p *LocalParticipant[K, V]) Expire(ctx context.Context, key K, version uint64) error {
	_, err := p.store.RemoveVersion(ctx, key, version)
	return err
}

// Prepared returns the number of transactions prepared and not yet finished.
func (p *LocalParticipant[K, V]) Prepared() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prepared)
}
