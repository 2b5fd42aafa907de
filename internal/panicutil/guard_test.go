package panicutil_test

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/karupanerura/txcache/internal/panicutil"
	"github.com/sourcegraph/conc/panics"
)

func TestGuard(t *testing.T) {
	t.Parallel()

	t.Run("returns the function error", func(t *testing.T) {
		t.Parallel()

		if err := panicutil.Guard(func() error { return nil }, nil); err != nil {
			t.Errorf("expected no error, got: %v", err)
		}

		want := errors.New("boom")
		if err := panicutil.Guard(func() error { return want }, nil); err != want {
			t.Errorf("expected %v, got: %v", want, err)
		}
	})

	t.Run("converts panic", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("cause")
		err := panicutil.Guard(func() error { panic(cause) }, nil)

		var recovered *panics.ErrRecovered
		if !errors.As(err, &recovered) {
			t.Fatalf("expected *panics.ErrRecovered, got: %T", err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("expected wrapped cause, got: %v", err)
		}
	})

	t.Run("calls onGoexit", func(t *testing.T) {
		t.Parallel()

		var (
			wg     sync.WaitGroup
			called bool
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = panicutil.Guard(func() error {
				runtime.Goexit()
				return nil
			}, func() { called = true })
		}()
		wg.Wait()

		if !called {
			t.Error("expected onGoexit to be called")
		}
	})
}

func TestCall(t *testing.T) {
	t.Parallel()

	if err := panicutil.Call(func() {}); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}

	err := panicutil.Call(func() { panic("listener") })
	var recovered *panics.ErrRecovered
	if !errors.As(err, &recovered) {
		t.Fatalf("expected *panics.ErrRecovered, got: %T", err)
	}
	if recovered.Value != "listener" {
		t.Errorf("unexpected panic value: %v", recovered.Value)
	}
}
