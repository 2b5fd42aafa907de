// storagetest package provides generic test cases for entry store implementations.
package storagetest

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/karupanerura/txcache"
	"golang.org/x/sync/errgroup"
)

// Provider creates a store reading time from the given clock, and a function releasing it.
type Provider[V txcache.ValueConstraint] func(txcache.Clock) (txcache.EntryStore[uint8, V], func())

// BenchmarkApply benchmarks single-mutation Apply calls of the entry store.
func BenchmarkApply[K txcache.KeyConstraint, V txcache.ValueConstraint](b *testing.B, store txcache.EntryStore[K, V], keys []K) {
	var zero V
	ctx := b.Context()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Apply(ctx, []txcache.Mutation[K, V]{{Key: keys[i%len(keys)], Value: zero, Lifespan: time.Hour}})
	}
}

type TestClonerStruct struct {
	value int8
}

func (s *TestClonerStruct) Clone() *TestClonerStruct {
	return &TestClonerStruct{value: s.value}
}

// TestCloneStruct tests that values are copied on the way in and out of the store.
func TestCloneStruct(t *testing.T, provider Provider[*TestClonerStruct]) {
	t.Run("CloneStruct", func(t *testing.T) {
		t.Parallel()

		store, release := provider(txcache.SystemClock)
		defer release()

		original := &TestClonerStruct{value: 1}
		if _, err := store.Apply(t.Context(), []txcache.Mutation[uint8, *TestClonerStruct]{{Key: 1, Value: original}}); err != nil {
			t.Fatal(err)
		}

		got, err := store.Get(t.Context(), 1)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil {
			t.Fatal("entry must exist")
		}
		if original == got.Value {
			t.Error("struct must be cloned, but got same that")
		}
		if df := cmp.Diff(original, got.Value, cmp.AllowUnexported(TestClonerStruct{})); df != "" {
			t.Errorf("struct diff=%s", df)
		}

		got.Value.value = 100
		again, err := store.Get(t.Context(), 1)
		if err != nil {
			t.Fatal(err)
		}
		if again.Value.value != 1 {
			t.Errorf("stored value was modified through a returned entry: %d", again.Value.value)
		}
	})
}

// TestConsistency tests concurrent writes and reads of distinct keys.
func TestConsistency(t *testing.T, provider Provider[int8]) {
	t.Run("Consistency", func(t *testing.T) {
		t.Parallel()

		store, release := provider(txcache.SystemClock)
		defer release()

		patterns := []txcache.Entry[uint8, int8]{
			{Key: 0, Value: 1},
			{Key: 1, Value: 2},
			{Key: 2, Value: 3},
			{Key: 3, Value: 4},
			{Key: 4, Value: 5},
			{Key: 251, Value: 124},
			{Key: 252, Value: 125},
			{Key: 253, Value: 126},
			{Key: 254, Value: 127},
			{Key: 255, Value: -128},
		}
		rand.Shuffle(len(patterns), func(i, j int) {
			patterns[i], patterns[j] = patterns[j], patterns[i]
		})

		var eg errgroup.Group
		for _, pattern := range patterns {
			eg.Go(func() error {
				entry, err := store.Get(t.Context(), pattern.Key)
				if err != nil {
					return err
				} else if entry != nil {
					return fmt.Errorf("unexpected exists value for key %d", pattern.Key)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			t.Fatal(err)
		}

		eg = errgroup.Group{}
		for _, pattern := range patterns {
			eg.Go(func() error {
				_, err := store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: pattern.Key, Value: pattern.Value}})
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			t.Fatal(err)
		}

		entries := make([]*txcache.CacheEntry[uint8, int8], len(patterns))
		eg = errgroup.Group{}
		for i, pattern := range patterns {
			eg.Go(func() error {
				entry, err := store.Get(t.Context(), pattern.Key)
				if err != nil {
					return err
				}
				entries[i] = entry
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			t.Fatal(err)
		}

		for i, pattern := range patterns {
			if entries[i] == nil {
				t.Errorf("pattern[%d] key=%d not found", i, pattern.Key)
				continue
			}
			if df := cmp.Diff(pattern, entries[i].Entry); df != "" {
				t.Errorf("pattern[%d] key=%d entry diff=%s", i, pattern.Key, df)
			}
		}
	})
}

// TestVersioning tests versions and the changes reported by Apply.
func TestVersioning(t *testing.T, provider Provider[int8]) {
	t.Run("Versioning", func(t *testing.T) {
		t.Parallel()

		store, release := provider(txcache.SystemClock)
		defer release()

		changes, err := store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Value: 10}})
		if err != nil {
			t.Fatal(err)
		}
		if len(changes) != 1 || !changes[0].Created() {
			t.Fatalf("expected one created change, got %+v", changes)
		}
		if v := changes[0].Current.Version; v != 1 {
			t.Errorf("expected version 1, got %d", v)
		}

		changes, err = store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Value: 11, Version: 42}})
		if err != nil {
			t.Fatal(err)
		}
		if len(changes) != 1 || changes[0].Created() || changes[0].Removed() {
			t.Fatalf("expected one modified change, got %+v", changes)
		}
		if changes[0].Previous.Value != 10 || changes[0].Current.Value != 11 {
			t.Errorf("unexpected values: previous=%d current=%d", changes[0].Previous.Value, changes[0].Current.Value)
		}
		if v := changes[0].Current.Version; v != 42 {
			t.Errorf("expected version 42, got %d", v)
		}

		changes, err = store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Value: 12, Version: 7}})
		if err != nil {
			t.Fatal(err)
		}
		if v := changes[0].Current.Version; v <= 42 {
			t.Errorf("version must not go backwards, got %d", v)
		}

		changes, err = store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Remove: true}, {Key: 2, Remove: true}})
		if err != nil {
			t.Fatal(err)
		}
		if len(changes) != 1 || !changes[0].Removed() || changes[0].Key != 1 {
			t.Fatalf("expected only the removal of key 1, got %+v", changes)
		}
		if got, err := store.Get(t.Context(), 1); err != nil || got != nil {
			t.Errorf("expected removed entry, got %+v (err=%v)", got, err)
		}
	})
}

// TestExpiration tests lifespan and idle expiration measured from the time of Apply.
func TestExpiration(t *testing.T, provider Provider[int8]) {
	t.Run("Expiration", func(t *testing.T) {
		t.Parallel()

		t.Run("Lifespan", func(t *testing.T) {
			t.Parallel()

			base := time.Now()
			clock := txcache.NewManualClock(base)
			store, release := provider(clock)
			defer release()

			clock.Advance(10 * time.Second)
			if _, err := store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Value: 1, Lifespan: time.Second}}); err != nil {
				t.Fatal(err)
			}

			clock.Set(base.Add(10*time.Second + 999*time.Millisecond))
			entry, err := store.Get(t.Context(), 1)
			if err != nil {
				t.Fatal(err)
			}
			if entry == nil {
				t.Fatal("should exist before the lifespan passes")
			}
			if !entry.Created.Equal(base.Add(10 * time.Second)) {
				t.Errorf("lifespan must start at apply time, created=%v", entry.Created)
			}

			clock.Set(base.Add(11 * time.Second))
			entry, err = store.Get(t.Context(), 1)
			if err != nil {
				t.Fatal(err)
			}
			if entry != nil {
				t.Error("should not exist")
			}
		})

		t.Run("MaxIdle", func(t *testing.T) {
			t.Parallel()

			clock := txcache.NewManualClock(time.Now())
			store, release := provider(clock)
			defer release()

			if _, err := store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Value: 1, MaxIdle: time.Second}}); err != nil {
				t.Fatal(err)
			}

			for range 3 {
				clock.Advance(900 * time.Millisecond)
				if entry, err := store.Get(t.Context(), 1); err != nil || entry == nil {
					t.Fatalf("read must keep the entry alive: entry=%v err=%v", entry, err)
				}
			}

			clock.Advance(900 * time.Millisecond)
			if entry, err := store.Peek(t.Context(), 1); err != nil || entry == nil {
				t.Fatalf("should still exist: entry=%v err=%v", entry, err)
			}
			clock.Advance(100 * time.Millisecond)
			if entry, err := store.Get(t.Context(), 1); err != nil || entry != nil {
				t.Errorf("Peek must not refresh the idle timer: entry=%v err=%v", entry, err)
			}
		})

		t.Run("Immortal", func(t *testing.T) {
			t.Parallel()

			clock := txcache.NewManualClock(time.Now())
			store, release := provider(clock)
			defer release()

			if _, err := store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Value: 1}}); err != nil {
				t.Fatal(err)
			}
			clock.Advance(24 * 365 * time.Hour)
			if entry, err := store.Get(t.Context(), 1); err != nil || entry == nil {
				t.Errorf("immortal entry must not expire: entry=%v err=%v", entry, err)
			}
		})

		t.Run("OverwriteExpired", func(t *testing.T) {
			t.Parallel()

			clock := txcache.NewManualClock(time.Now())
			store, release := provider(clock)
			defer release()

			if _, err := store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Value: 1, Lifespan: time.Second}}); err != nil {
				t.Fatal(err)
			}
			clock.Advance(2 * time.Second)
			changes, err := store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Value: 2}})
			if err != nil {
				t.Fatal(err)
			}
			if len(changes) != 1 || !changes[0].Created() {
				t.Errorf("writing over an expired entry must create it, got %+v", changes)
			}
		})
	})
}

// TestStateTransfer tests Install, RemoveVersion and Snapshot.
func TestStateTransfer(t *testing.T, provider Provider[int8]) {
	t.Run("StateTransfer", func(t *testing.T) {
		t.Parallel()

		clock := txcache.NewManualClock(time.Now())
		store, release := provider(clock)
		defer release()

		if _, err := store.Apply(t.Context(), []txcache.Mutation[uint8, int8]{{Key: 1, Value: 1, Version: 5}}); err != nil {
			t.Fatal(err)
		}

		created := clock.Now().Add(-time.Minute)
		incoming := []*txcache.CacheEntry[uint8, int8]{
			{Entry: txcache.Entry[uint8, int8]{Key: 1, Value: 100}, Version: 4, Created: created, LastUsed: created},
			{Entry: txcache.Entry[uint8, int8]{Key: 2, Value: 2}, Version: 9, Created: created, LastUsed: created, Lifespan: time.Hour},
			nil,
		}
		n, err := store.Install(t.Context(), incoming)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("expected 1 installed entry, got %d", n)
		}

		got, err := store.Peek(t.Context(), 1)
		if err != nil {
			t.Fatal(err)
		}
		if got.Value != 1 {
			t.Errorf("older version must not replace the entry, got %d", got.Value)
		}
		got, err = store.Peek(t.Context(), 2)
		if err != nil {
			t.Fatal(err)
		}
		if df := cmp.Diff(incoming[1], got); df != "" {
			t.Errorf("installed entry diff=%s", df)
		}

		entries, err := store.Snapshot(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 {
			t.Errorf("expected 2 entries in snapshot, got %d", len(entries))
		}

		if removed, err := store.RemoveVersion(t.Context(), 2, 8); err != nil || removed != nil {
			t.Errorf("newer entry must be kept: removed=%v err=%v", removed, err)
		}
		removed, err := store.RemoveVersion(t.Context(), 2, 9)
		if err != nil {
			t.Fatal(err)
		}
		if removed == nil || removed.Value != 2 {
			t.Errorf("expected removal of key 2, got %+v", removed)
		}
		if removed, err := store.RemoveVersion(t.Context(), 2, 9); err != nil || removed != nil {
			t.Errorf("second removal must be a no-op: removed=%v err=%v", removed, err)
		}
	})
}
