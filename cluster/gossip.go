package cluster

import (
	"github.com/hashicorp/memberlist"
)

// GossipEvents is a memberlist.EventDelegate that feeds gossip membership into a Membership.
type GossipEvents struct {
	membership *Membership
}

var _ memberlist.EventDelegate = (*GossipEvents)(nil)

// NewGossipEvents creates an event delegate updating the membership.
func NewGossipEvents(membership *Membership) *GossipEvents {
	return &GossipEvents{membership: membership}
}

func (e *GossipEvents) NotifyJoin(n *memberlist.Node) {
	e.membership.Join(NodeID(n.Name))
}

func (e *GossipEvents) NotifyLeave(n *memberlist.Node) {
	e.membership.Leave(NodeID(n.Name))
}

// NotifyUpdate ignores metadata updates; ownership only depends on node names.
func (e *GossipEvents) NotifyUpdate(*memberlist.Node) {}

// GossipConfig returns a LAN memberlist configuration named after the node that reports membership to the events.
func GossipConfig(node NodeID, events *GossipEvents) *memberlist.Config {
	c := memberlist.DefaultLANConfig()
	c.Name = string(node)
	c.Events = events
	return c
}
