package traceroute

import (
	"net"
	"testing"

	"github.com/ecmptrace/paristraceroute/event"
	"github.com/ecmptrace/paristraceroute/lattice"
	"github.com/ecmptrace/paristraceroute/probe"
)

func TestAlgorithmNameByMode(t *testing.T) {
	if got := New(ModeClassical).Name(); got != "traceroute" {
		t.Fatalf("classical name = %q, want traceroute", got)
	}
	if got := New(ModeParis).Name(); got != "paris-traceroute" {
		t.Fatalf("paris name = %q, want paris-traceroute", got)
	}
}

// newTestInstance builds an instance directly, bypassing NewInstance (and
// so the real network.Network it would otherwise require), since onReply/
// onTimeout/record never touch in.net, and afterOneResult only reaches
// it (through sweepTTL/emitProbe) when it advances to the next TTL.
func newTestInstance(t *testing.T) *instance {
	t.Helper()
	return &instance{
		bus:          event.NewBus(),
		lat:          lattice.New(),
		name:         "traceroute",
		dst:          net.ParseIP("203.0.113.1"),
		ttl:          1,
		maxTTL:       30,
		probesPerTTL: 3,
		outstanding:  make(map[probe.ProbeID]*pending),
	}
}

func TestRecordLinksConsecutiveTTLs(t *testing.T) {
	in := newTestInstance(t)
	in.record(1, net.ParseIP("10.0.0.1"))
	in.record(2, net.ParseIP("10.0.0.2"))
	if in.prevNode == nil || in.prevNode.TTL != 2 {
		t.Fatalf("expected prevNode at ttl 2, got %v", in.prevNode)
	}
	if succ := in.lat.Successors(in.lat.NodesAt(1)[0]); len(succ) != 1 || succ[0] != in.prevNode {
		t.Fatalf("expected ttl 1 node linked to ttl 2 node, got successors %v", succ)
	}
}

func TestAfterOneResultGapStopsAfterLimit(t *testing.T) {
	in := newTestInstance(t)
	in.probesPerTTL = 1
	for i := 0; i < gapLimit; i++ {
		id := probe.ProbeID{Index: uint32(i)}
		in.outstanding[id] = &pending{ttl: in.ttl}
		if _, ok := in.takeOutstanding(id); !ok {
			t.Fatalf("expected outstanding probe %v", id)
		}
		if err := in.afterOneResult(false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !in.done {
		t.Fatalf("expected run to stop after %d consecutive silent TTLs", gapLimit)
	}
}

func TestAfterOneResultStopsOnDestination(t *testing.T) {
	in := newTestInstance(t)
	if err := in.afterOneResult(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !in.done {
		t.Fatalf("expected run to terminate once destination is reached")
	}
}

func TestStopWithNoOutstandingTerminatesImmediately(t *testing.T) {
	in := newTestInstance(t)
	in.Stop()
	if !in.Done() {
		t.Fatalf("expected Stop with no outstanding probes to finish immediately")
	}
}

func TestStopWithOutstandingWaits(t *testing.T) {
	in := newTestInstance(t)
	in.outstanding[probe.ProbeID{Index: 1}] = &pending{ttl: 1}
	in.Stop()
	if in.Done() {
		t.Fatalf("expected Stop to wait for outstanding probes before finishing")
	}
}
