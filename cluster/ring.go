package cluster

import (
	"slices"
	"sort"
	"strconv"

	"github.com/karupanerura/txcache/internal/keyhash"
)

// NodeID identifies a cluster member.
type NodeID string

func (n NodeID) String() string {
	return string(n)
}

// DefaultVirtualNodes is the default number of ring tokens per member.
var DefaultVirtualNodes = 64

type token struct {
	hash uint64
	node NodeID
}

// Ring is an immutable consistent-hash ring over a set of members.
// A new ring is built for every membership change; rings are never modified.
type Ring struct {
	members    []NodeID
	tokens     []token
	numOwners  int
	replicated bool
	opts       []RingOption
}

// RingOption configures a Ring.
type RingOption interface {
	apply(*ringOptions)
}

type ringOptionFunc func(*ringOptions)

func (f ringOptionFunc) apply(o *ringOptions) {
	f(o)
}

type ringOptions struct {
	virtualNodes int
	replicated   bool
}

// WithVirtualNodes sets the number of tokens placed on the ring per member.
func WithVirtualNodes(n int) RingOption {
	if n <= 0 {
		panic("virtual nodes must be natural number")
	}
	return ringOptionFunc(func(o *ringOptions) {
		o.virtualNodes = n
	})
}

// Replicated makes every member an owner of every key.
func Replicated() RingOption {
	return ringOptionFunc(func(o *ringOptions) {
		o.replicated = true
	})
}

// NewRing builds a ring over the members in which every key has numOwners owners.
func NewRing(members []NodeID, numOwners int, opts ...RingOption) *Ring {
	if numOwners <= 0 {
		panic("numOwners must be natural number")
	}
	o := ringOptions{virtualNodes: DefaultVirtualNodes}
	for _, opt := range opts {
		opt.apply(&o)
	}

	sorted := slices.Clone(members)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	tokens := make([]token, 0, len(sorted)*o.virtualNodes)
	for _, node := range sorted {
		for i := range o.virtualNodes {
			tokens = append(tokens, token{hash: keyhash.String(string(node) + "#" + strconv.Itoa(i)), node: node})
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].hash == tokens[j].hash {
			return tokens[i].node < tokens[j].node
		}
		return tokens[i].hash < tokens[j].hash
	})

	return &Ring{
		members:    sorted,
		tokens:     tokens,
		numOwners:  numOwners,
		replicated: o.replicated,
		opts:       opts,
	}
}

// Members returns the sorted members of the ring.
func (r *Ring) Members() []NodeID {
	return slices.Clone(r.members)
}

// Contains reports whether the node is a member of the ring.
func (r *Ring) Contains(node NodeID) bool {
	_, found := slices.BinarySearch(r.members, node)
	return found
}

// Len returns the number of members.
func (r *Ring) Len() int {
	return len(r.members)
}

// NumOwners returns the number of owners of a key, which is never more than the number of members.
func (r *Ring) NumOwners() int {
	if r.replicated {
		return len(r.members)
	}
	return min(r.numOwners, len(r.members))
}

// Owners returns the distinct owners of the key hash, primary owner first.
// It returns nil for an empty ring.
func (r *Ring) Owners(hash uint64) []NodeID {
	n := r.NumOwners()
	if n == 0 {
		return nil
	}

	owners := make([]NodeID, 0, n)
	start := sort.Search(len(r.tokens), func(i int) bool {
		return r.tokens[i].hash >= hash
	})
	for i := 0; i < len(r.tokens) && len(owners) < n; i++ {
		node := r.tokens[(start+i)%len(r.tokens)].node
		if !slices.Contains(owners, node) {
			owners = append(owners, node)
		}
	}
	return owners
}

// Primary returns the primary owner of the key hash.
func (r *Ring) Primary(hash uint64) (NodeID, bool) {
	owners := r.Owners(hash)
	if len(owners) == 0 {
		return "", false
	}
	return owners[0], true
}

// IsOwner reports whether the node owns the key hash.
func (r *Ring) IsOwner(node NodeID, hash uint64) bool {
	return slices.Contains(r.Owners(hash), node)
}

// with returns a ring with the same settings over other members.
func (r *Ring) with(members []NodeID) *Ring {
	return NewRing(members, r.numOwners, r.opts...)
}
