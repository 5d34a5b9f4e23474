package network

import (
	"time"

	"github.com/ecmptrace/paristraceroute/probe"
)

// outstandingKey groups entries by the wire-visible identity a reply
// can be matched against: the flow identifier alone (FlowID.WireTag
// already folds in the per-probe disambiguator). TTL is deliberately
// excluded: the TTL an ICMP error quotes back is the decremented value
// at the point of drop, not the TTL the probe was sent with, so it can
// never be recovered for a match. The algorithm-chosen tag rides along
// in the slot for the algorithm's own bookkeeping; it is not
// wire-visible and so is not part of the lookup key either. When
// several outstanding probes share a key, the oldest one resolves an
// ambiguous match.
type outstandingKey struct {
	flow probe.FlowID
}

type slot struct {
	probe      *probe.Probe
	tag        uint64
	flow       probe.FlowID
	ttl        int
	sentAt     time.Time
	deadline   time.Time
	generation uint32
	live       bool
}

// arena owns probe identity (index + generation) and the
// outstanding-probe table the network layer matches replies against.
type arena struct {
	slots      []slot
	freeList   []uint32
	byKey      map[outstandingKey][]uint32 // FIFO per key
	generation uint32
}

func newArena() *arena {
	return &arena{byKey: make(map[outstandingKey][]uint32)}
}

// Put records a newly sent probe and returns its id.
func (a *arena) Put(p *probe.Probe, tag uint64, ttl int, flow probe.FlowID, timeout time.Duration, now time.Time) probe.ProbeID {
	a.generation++
	gen := a.generation

	var idx uint32
	if n := len(a.freeList); n > 0 {
		idx = a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{})
	}

	a.slots[idx] = slot{
		probe:      p,
		tag:        tag,
		flow:       flow,
		ttl:        ttl,
		sentAt:     now,
		deadline:   now.Add(timeout),
		generation: gen,
		live:       true,
	}
	id := probe.ProbeID{Index: idx, Generation: gen}
	p.SetID(id)

	key := outstandingKey{flow: flow}
	a.byKey[key] = append(a.byKey[key], idx)
	return id
}

// MatchReply resolves the oldest live outstanding probe for flow, if
// any, without releasing it (the network layer releases once the
// reply is fully processed).
func (a *arena) MatchReply(flow probe.FlowID) (probe.ProbeID, bool) {
	key := outstandingKey{flow: flow}
	queue := a.byKey[key]
	for len(queue) > 0 {
		idx := queue[0]
		if a.slots[idx].live {
			return probe.ProbeID{Index: idx, Generation: a.slots[idx].generation}, true
		}
		queue = queue[1:]
	}
	a.byKey[key] = queue
	return probe.ProbeID{}, false
}

// Release frees id's slot, bumping its generation so a late duplicate
// reply referencing the stale id is ignored, then returns the probe
// and its tag for the caller to act on.
func (a *arena) Release(id probe.ProbeID) (*probe.Probe, uint64, bool) {
	if int(id.Index) >= len(a.slots) {
		return nil, 0, false
	}
	s := &a.slots[id.Index]
	if !s.live || s.generation != id.Generation {
		return nil, 0, false
	}
	p, tag := s.probe, s.tag
	s.live = false
	s.probe = nil
	a.freeList = append(a.freeList, id.Index)
	return p, tag, true
}

// Expired returns every outstanding probe whose deadline is at or
// before now, in arena slot order, without releasing them.
func (a *arena) Expired(now time.Time) []probe.ProbeID {
	var out []probe.ProbeID
	for idx := range a.slots {
		s := &a.slots[idx]
		if s.live && !s.deadline.After(now) {
			out = append(out, probe.ProbeID{Index: uint32(idx), Generation: s.generation})
		}
	}
	return out
}

// DropAll returns every currently live outstanding probe, without
// releasing them, so a caller (instance stop, loop termination) can
// release and free each one itself.
func (a *arena) DropAll() []probe.ProbeID {
	var out []probe.ProbeID
	for idx := range a.slots {
		s := &a.slots[idx]
		if s.live {
			out = append(out, probe.ProbeID{Index: uint32(idx), Generation: s.generation})
		}
	}
	return out
}
