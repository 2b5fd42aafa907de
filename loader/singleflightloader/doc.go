// Package singleflightloader coalesces concurrent loads of the same key.
//
// A cache node that does not own a key reads it from the owners. When many callers read the same
// key at once, SingleFlightLoader issues one remote read and hands every waiter its own copy of the entry.
package singleflightloader
