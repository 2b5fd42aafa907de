package notify

import (
	"context"
	"fmt"

	"github.com/karupanerura/txcache"
)

// Kind is the kind of a cache event.
type Kind uint8

const (
	Created Kind = iota + 1
	Modified
	Removed
	Expired
)

// AllKinds returns every event kind.
func AllKinds() []Kind {
	return []Kind{Created, Modified, Removed, Expired}
}

func (k Kind) String() string {
	switch k {
	case Created:
		return "CREATED"
	case Modified:
		return "MODIFIED"
	case Removed:
		return "REMOVED"
	case Expired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Phase selects whether a listener observes events before, after, or around a change.
type Phase uint8

const (
	Pre Phase = 1 << iota
	Post

	Both = Pre | Post
)

func (p Phase) has(pre bool) bool {
	if pre {
		return p&Pre != 0
	}
	return p&Post != 0
}

// Event is delivered to listeners.
// Value is the new value for Created and Modified events and the last value for Removed and Expired ones.
// Pre events carry the value before the change.
type Event[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	Kind    Kind
	Key     K
	Value   V
	Version uint64

	// Pre is true for the notification describing the state a change replaces.
	// It is delivered once the change is committed, before the Post notifications of the same commit.
	Pre bool

	// Primary is true when the node sending the event is the primary owner of the key.
	Primary bool
}

// Listener receives cache events.
// Returned errors and panics are reported but never stop delivery to other listeners.
// Listeners are called without any key lock held, with a context that carries no transaction,
// so they may write to the cache.
type Listener[K txcache.KeyConstraint, V txcache.ValueConstraint] interface {
	OnCacheEvent(context.Context, Event[K, V]) error
}

// ListenerFunc is a function implementing Listener.
type ListenerFunc[K txcache.KeyConstraint, V txcache.ValueConstraint] func(context.Context, Event[K, V]) error

func (f ListenerFunc[K, V]) OnCacheEvent(ctx context.Context, ev Event[K, V]) error {
	return f(ctx, ev)
}

// Hooks is a Listener with one callback per event kind.
// It is only subscribed to the kinds that have a callback.
type Hooks[K txcache.KeyConstraint, V txcache.ValueConstraint] struct {
	OnCreated  func(context.Context, Event[K, V]) error
	OnModified func(context.Context, Event[K, V]) error
	OnRemoved  func(context.Context, Event[K, V]) error
	OnExpired  func(context.Context, Event[K, V]) error
}

func (h *Hooks[K, V]) hook(k Kind) func(context.Context, Event[K, V]) error {
	switch k {
	case Created:
		return h.OnCreated
	case Modified:
		return h.OnModified
	case Removed:
		return h.OnRemoved
	case Expired:
		return h.OnExpired
	default:
		return nil
	}
}

func (h *Hooks[K, V]) OnCacheEvent(ctx context.Context, ev Event[K, V]) error {
	if f := h.hook(ev.Kind); f != nil {
		return f(ctx, ev)
	}
	return nil
}

func (h *Hooks[K, V]) kinds() []Kind {
	var kinds []Kind
	for _, k := range AllKinds() {
		if h.hook(k) != nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
