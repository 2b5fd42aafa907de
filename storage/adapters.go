package storage

import (
	"context"
	"fmt"

	"github.com/karupanerura/txcache"
)

var _ txcache.EntryStore[uint8, struct{}] = (*AnnotatedStorage[uint8, struct{}])(nil)

// AnnotatedStorage is a decorator for a txcache.EntryStore that wraps every error
// with the sentinel of the failed operation. The original error stays reachable with errors.Is.
type AnnotatedStorage[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	// Storage is the underlying storage that this decorator wraps.
	Storage txcache.EntryStore[K, V]
}

func annotate(op error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", op, err)
}

func (s *AnnotatedStorage[K, V]) Get(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	e, err := s.Storage.Get(ctx, key)
	return e, annotate(ErrGet, err)
}

func (s *AnnotatedStorage[K, V]) Peek(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	e, err := s.Storage.Peek(ctx, key)
	return e, annotate(ErrGet, err)
}

func (s *AnnotatedStorage[K, V]) Apply(ctx context.Context, mutations []txcache.Mutation[K, V]) ([]txcache.Change[K, V], error) {
	changes, err := s.Storage.Apply(ctx, mutations)
	return changes, annotate(ErrApply, err)
}

func (s *AnnotatedStorage[K, V]) Install(ctx context.Context, entries []*txcache.CacheEntry[K, V]) (int, error) {
	n, err := s.Storage.Install(ctx, entries)
	return n, annotate(ErrInstall, err)
}

func (s *AnnotatedStorage[K, V]) RemoveVersion(ctx context.Context, key K, version uint64) (*txcache.CacheEntry[K, V], error) {
	e, err := s.Storage.RemoveVersion(ctx, key, version)
	return e, annotate(ErrRemoveVersion, err)
}

func (s *AnnotatedStorage[K, V]) Snapshot(ctx context.Context) ([]*txcache.CacheEntry[K, V], error) {
	entries, err := s.Storage.Snapshot(ctx)
	return entries, annotate(ErrSnapshot, err)
}

var _ txcache.EntryStore[uint8, struct{}] = (*FunctionsStorage[uint8, struct{}])(nil)

// FunctionsStorage is a txcache.EntryStore implementation that uses functions to perform the storage operations.
// Calling an operation whose function is nil panics.
type FunctionsStorage[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	GetFunc  func(context.Context, K) (*txcache.CacheEntry[K, V], error)
	PeekFunc func(context.Context, K) (*txcache.CacheEntry[K, V], error)

	// ApplyFunc must apply all mutations or none of them.
	ApplyFunc func(context.Context, []txcache.Mutation[K, V]) ([]txcache.Change[K, V], error)

	InstallFunc       func(context.Context, []*txcache.CacheEntry[K, V]) (int, error)
	RemoveVersionFunc func(context.Context, K, uint64) (*txcache.CacheEntry[K, V], error)
	SnapshotFunc      func(context.Context) ([]*txcache.CacheEntry[K, V], error)
}

func (s *FunctionsStorage[K, V]) Get(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	return s.GetFunc(ctx, key)
}

func (s *FunctionsStorage[K, V]) Peek(ctx context.Context, key K) (*txcache.CacheEntry[K, V], error) {
	return s.PeekFunc(ctx, key)
}

func (s *FunctionsStorage[K, V]) Apply(ctx context.Context, mutations []txcache.Mutation[K, V]) ([]txcache.Change[K, V], error) {
	return s.ApplyFunc(ctx, mutations)
}

func (s *FunctionsStorage[K, V]) Install(ctx context.Context, entries []*txcache.CacheEntry[K, V]) (int, error) {
	return s.InstallFunc(ctx, entries)
}

func (s *FunctionsStorage[K, V]) RemoveVersion(ctx context.Context, key K, version uint64) (*txcache.CacheEntry[K, V], error) {
	return s.RemoveVersionFunc(ctx, key, version)
}

func (s *FunctionsStorage[K, V]) Snapshot(ctx context.Context) ([]*txcache.CacheEntry[K, V], error) {
	return s.SnapshotFunc(ctx)
}
