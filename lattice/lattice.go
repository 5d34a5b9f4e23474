// Package lattice implements the layered DAG of discovered interfaces:
// layer k holds every interface observed at TTL k, and edges only ever
// cross from layer k to layer k+1.
package lattice

import (
	"fmt"
	"net"
	"time"

	"github.com/ecmptrace/paristraceroute/internal/errclass"
)

// Star is the sentinel address representing "no reply at this TTL".
var Star net.IP

// Node is one observed interface: an (address, TTL) pair and RTT
// samples. Two replies fuse into the same Node iff (address, TTL)
// match.
type Node struct {
	id      int
	TTL     int
	Address net.IP
	RTTs    []time.Duration
}

func (n *Node) String() string {
	if n == nil || n.Address.Equal(Star) || n.Address == nil {
		return "*"
	}
	return n.Address.String()
}

// Edge is a confirmed adjacency between two Nodes one TTL apart.
type Edge struct {
	From, To *Node
	Witness  int // number of probes that witnessed this edge
}

// Lattice is the layered DAG. It is not safe for concurrent use; the
// owning algorithm instance runs on the single loop thread.
type Lattice struct {
	layers map[int][]*Node
	byKey  map[nodeKey]*Node
	edges  map[edgeKey]*Edge
	nextID int
}

type nodeKey struct {
	ttl  int
	addr string
}

type edgeKey struct {
	from, to int
}

// New returns an empty Lattice.
func New() *Lattice {
	return &Lattice{
		layers: make(map[int][]*Node),
		byKey:  make(map[nodeKey]*Node),
		edges:  make(map[edgeKey]*Edge),
	}
}

// AddInterface records an observation at ttl, fusing it with any
// existing node at the same (address, ttl).
func (l *Lattice) AddInterface(ttl int, address net.IP) *Node {
	key := nodeKey{ttl: ttl, addr: addrKey(address)}
	if n, ok := l.byKey[key]; ok {
		return n
	}
	n := &Node{id: l.nextID, TTL: ttl, Address: address}
	l.nextID++
	l.byKey[key] = n
	l.layers[ttl] = append(l.layers[ttl], n)
	return n
}

func addrKey(ip net.IP) string {
	if ip == nil {
		return "*"
	}
	return ip.String()
}

// AddLink records a witnessed adjacency from one TTL's interface to
// the next TTL's. Fails with ErrNonMonotonic when to.TTL != from.TTL+1.
func (l *Lattice) AddLink(from, to *Node) (*Edge, error) {
	if to.TTL != from.TTL+1 {
		return nil, fmt.Errorf("lattice: link %s(ttl=%d) -> %s(ttl=%d): %w",
			from, from.TTL, to, to.TTL, errclass.ErrNonMonotonic)
	}
	key := edgeKey{from: from.id, to: to.id}
	if e, ok := l.edges[key]; ok {
		e.Witness++
		return e, nil
	}
	e := &Edge{From: from, To: to, Witness: 1}
	l.edges[key] = e
	return e, nil
}

// Successors returns the nodes linked from n, ordered by the
// successor's own insertion order (ties in Dump are broken this way).
func (l *Lattice) Successors(n *Node) []*Node {
	var out []*Node
	type found struct {
		to  *Node
		seq int
	}
	var fs []found
	for _, e := range l.edges {
		if e.From == n {
			fs = append(fs, found{to: e.To, seq: e.To.id})
		}
	}
	// stable sort by the successor's insertion id
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && fs[j].seq < fs[j-1].seq; j-- {
			fs[j], fs[j-1] = fs[j-1], fs[j]
		}
	}
	for _, f := range fs {
		out = append(out, f.to)
	}
	return out
}

// TTLRange reports the populated TTL range, or (0, -1) if empty.
func (l *Lattice) TTLRange() (min, max int) {
	min, max = -1, -1
	for ttl := range l.layers {
		if min == -1 || ttl < min {
			min = ttl
		}
		if ttl > max {
			max = ttl
		}
	}
	if min == -1 {
		return 0, -1
	}
	return min, max
}

// NodesAt returns the interfaces observed at ttl, in insertion order.
func (l *Lattice) NodesAt(ttl int) []*Node {
	return l.layers[ttl]
}

// Visitor is called once per node during Dump, in BFS-by-TTL order
// with ties broken by insertion order.
type Visitor func(n *Node, successors []*Node)

// Dump traverses the lattice BFS by TTL, ties broken by insertion
// order of interfaces, and calls visit once per node.
func (l *Lattice) Dump(visit Visitor) {
	minTTL, maxTTL := l.TTLRange()
	for ttl := minTTL; ttl <= maxTTL; ttl++ {
		for _, n := range l.layers[ttl] {
			visit(n, l.Successors(n))
		}
	}
}
