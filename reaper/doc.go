// Package reaper removes expired entries in the background and emits their expiration events.
package reaper
