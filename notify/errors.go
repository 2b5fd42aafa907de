package notify

import (
	"fmt"

	"github.com/karupanerura/txcache"
)

// ListenerError is reported when a listener returns an error or panics.
type ListenerError struct {
	Listener ListenerID
	Kind     Kind
	Key      any
	Pre      bool
	Cause    error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("txcache: listener %d failed on %s event for key %v: %v", e.Listener, e.Kind, e.Key, e.Cause)
}

func (e *ListenerError) Unwrap() error {
	return e.Cause
}

func (e *ListenerError) Is(target error) bool {
	return target == txcache.ErrListenerFailure
}
