// Package inproc connects the nodes of a cluster living in one process.
//
// A Network maps node ids to the participants of their caches. Faults can be injected per node to
// exercise rollback and heuristic outcomes without a real network.
package inproc
