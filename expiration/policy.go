package expiration

import (
	"time"
)

// ExpirationPolicy is the interface for the expiration time checker.
type ExpirationPolicy interface {
	// IsExpired returns true if the value is expired.
	// The now parameter represents the current time, and expiresAt is the value's expiration time.
	IsExpired(now, expiresAt time.Time) bool
}

// GeneralExpirationPolicy is a policy that expires a value at a specific time.
// A value is expired once now >= expiresAt.
type GeneralExpirationPolicy struct{}

var _ ExpirationPolicy = GeneralExpirationPolicy{}

// IsExpired returns true if the current time is at or after the specified expiration time.
func (GeneralExpirationPolicy) IsExpired(now, expiresAt time.Time) bool {
	return !expiresAt.After(now)
}

// NeverExpirationPolicy is a policy that never expires a value.
type NeverExpirationPolicy struct{}

var _ ExpirationPolicy = NeverExpirationPolicy{}

// IsExpired always returns false.
func (NeverExpirationPolicy) IsExpired(now, expiresAt time.Time) bool {
	return false
}

// Reason tells why an entry expired.
type Reason int

const (
	// NotExpired means the entry is live.
	NotExpired Reason = iota

	// LifespanExceeded means now >= Created+Lifespan.
	LifespanExceeded

	// IdleExceeded means now >= LastUsed+MaxIdle while the lifespan has not passed.
	IdleExceeded
)

// String returns the name of the reason.
func (r Reason) String() string {
	switch r {
	case NotExpired:
		return "not_expired"
	case LifespanExceeded:
		return "lifespan"
	case IdleExceeded:
		return "max_idle"
	default:
		return "unknown"
	}
}

// Timestamps holds the expiration metadata of an entry.
type Timestamps struct {
	Created  time.Time
	LastUsed time.Time
	Lifespan time.Duration
	MaxIdle  time.Duration
}

// Mortal reports whether the entry can expire at all.
func (ts Timestamps) Mortal() bool {
	return ts.Lifespan > 0 || ts.MaxIdle > 0
}

// LifespanDeadline returns Created+Lifespan, or false for an immortal entry.
func (ts Timestamps) LifespanDeadline() (time.Time, bool) {
	if ts.Lifespan <= 0 {
		return time.Time{}, false
	}
	return ts.Created.Add(ts.Lifespan), true
}

// IdleDeadline returns LastUsed+MaxIdle, or false when idle expiration is disabled.
func (ts Timestamps) IdleDeadline() (time.Time, bool) {
	if ts.MaxIdle <= 0 {
		return time.Time{}, false
	}
	return ts.LastUsed.Add(ts.MaxIdle), true
}

// ExpiresAt returns the earliest deadline, or false for an entry that never expires.
func (ts Timestamps) ExpiresAt() (time.Time, bool) {
	lifespan, hasLifespan := ts.LifespanDeadline()
	idle, hasIdle := ts.IdleDeadline()
	switch {
	case hasLifespan && hasIdle:
		if idle.Before(lifespan) {
			return idle, true
		}
		return lifespan, true
	case hasLifespan:
		return lifespan, true
	case hasIdle:
		return idle, true
	default:
		return time.Time{}, false
	}
}

// Evaluate reports whether the entry described by ts is expired at now under the policy.
// A passed lifespan takes precedence over a passed idle deadline.
func Evaluate(p ExpirationPolicy, now time.Time, ts Timestamps) Reason {
	if at, ok := ts.LifespanDeadline(); ok && p.IsExpired(now, at) {
		return LifespanExceeded
	}
	if at, ok := ts.IdleDeadline(); ok && p.IsExpired(now, at) {
		return IdleExceeded
	}
	return NotExpired
}
