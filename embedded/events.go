package embedded

import (
	"context"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/notify"
)

// onCommit sends the events of a local commit. The key locks are already released, so listeners may
// write to the cache, and the context no longer carries the committing transaction.
// Every Pre event of the commit is sent before its Post events.
func (c *Cache[K, V]) onCommit(ctx context.Context, changes []txcache.Change[K, V]) {
	ctx = c.txm.Detach(ctx)

	primary := make([]bool, len(changes))
	for i, ch := range changes {
		primary[i] = c.IsPrimary(ch.Key)
	}
	for i, ch := range changes {
		if ev := changeEvent(ch, primary[i], true); c.notifier.Wants(ev.Kind, true, primary[i]) {
			c.notifier.Notify(ctx, ev)
		}
	}
	for i, ch := range changes {
		c.notifier.Notify(ctx, changeEvent(ch, primary[i], false))
	}
}

// changeEvent describes a change. Pre events carry the replaced value, Post events the new one,
// or the last one for removals.
func changeEvent[K txcache.KeyConstraint, V txcache.ValueConstraint](ch txcache.Change[K, V], primary, pre bool) notify.Event[K, V] {
	ev := notify.Event[K, V]{Key: ch.Key, Pre: pre, Primary: primary}
	switch {
	case ch.Removed():
		ev.Kind = notify.Removed
		ev.Value = ch.Previous.Value
		ev.Version = ch.Previous.Version
		return ev
	case ch.Created():
		ev.Kind = notify.Created
	default:
		ev.Kind = notify.Modified
	}

	ev.Version = ch.Current.Version
	if !pre {
		ev.Value = ch.Current.Value
	} else if ch.Previous != nil {
		ev.Value = ch.Previous.Value
	}
	return ev
}
