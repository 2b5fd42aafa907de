// Package cluster maps keys to their owner nodes.
//
// A Ring is an immutable consistent-hash snapshot of the members. Membership swaps in a new
// ring on every join or leave and tells its subscribers, which move entries to their new owners.
// GossipEvents connects a hashicorp/memberlist cluster to a Membership.
package cluster
