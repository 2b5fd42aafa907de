package ctxsync

import (
	"context"
	"sync"
)

// KeyLocker is a table of exclusive per-key locks.
// Acquisition can be bounded by a context; entries are dropped once nobody holds or waits for them.
type KeyLocker[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyLock
}

type keyLock struct {
	// sem holds a token while the key is locked.
	sem  chan struct{}
	refs int
}

// NewKeyLocker creates an empty lock table.
func NewKeyLocker[K comparable]() *KeyLocker[K] {
	return &KeyLocker[K]{locks: map[K]*keyLock{}}
}

func (l *KeyLocker[K]) ref(key K) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyLocker[K]) unref(key K, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// LockCtx locks the key.
// If the context is done before the lock is acquired, it returns the context error.
func (l *KeyLocker[K]) LockCtx(ctx context.Context, key K) error {
	kl := l.ref(key)
	select {
	case kl.sem <- struct{}{}:
		return nil
	default:
	}

	select {
	case kl.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, kl)
		return ctx.Err()
	}
}

// TryLock locks the key if it is free and reports whether it did.
func (l *KeyLocker[K]) TryLock(key K) bool {
	kl := l.ref(key)
	select {
	case kl.sem <- struct{}{}:
		return true
	default:
		l.unref(key, kl)
		return false
	}
}

// Unlock releases the key. Unlocking a key that is not locked panics.
func (l *KeyLocker[K]) Unlock(key K) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	l.mu.Unlock()
	if !ok {
		panic("ctxsync: unlock of unlocked key")
	}

	select {
	case <-kl.sem:
	default:
		panic("ctxsync: unlock of unlocked key")
	}
	l.unref(key, kl)
}

// LockAllCtx locks the keys in order. On failure it releases what it acquired and returns the error.
func (l *KeyLocker[K]) LockAllCtx(ctx context.Context, keys []K) error {
	for i, key := range keys {
		if err := l.LockCtx(ctx, key); err != nil {
			l.UnlockAll(keys[:i])
			return err
		}
	}
	return nil
}

// UnlockAll releases the keys in reverse order.
func (l *KeyLocker[K]) UnlockAll(keys []K) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.Unlock(keys[i])
	}
}

// Len returns the number of keys currently locked or waited for.
func (l *KeyLocker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
