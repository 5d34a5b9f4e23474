package network

import (
	"testing"
	"time"

	"github.com/ecmptrace/paristraceroute/probe"
)

func TestArenaPutMatchReleaseRoundTrip(t *testing.T) {
	a := newArena()
	flow := probe.FlowID{Protocol: probe.ProtocolUDP, SrcPort: 3083, DstPort: 33434}
	p := probe.Create()

	id := a.Put(p, 7, 1, flow, time.Second, time.Now())
	if !id.Valid() {
		t.Fatalf("expected a valid id from Put")
	}

	got, ok := a.MatchReply(flow)
	if !ok || got != id {
		t.Fatalf("MatchReply = %v, %v, want %v, true", got, ok, id)
	}

	released, tag, ok := a.Release(id)
	if !ok || released != p || tag != 7 {
		t.Fatalf("Release = %v, %v, %v, want %v, 7, true", released, tag, ok, p)
	}

	if _, ok := a.Release(id); ok {
		t.Fatalf("expected second Release of the same id to fail")
	}
}

func TestArenaMatchReplyFIFOOldestWins(t *testing.T) {
	a := newArena()
	flow := probe.FlowID{Protocol: probe.ProtocolUDP, SrcPort: 3083, DstPort: 33434}

	first := a.Put(probe.Create(), 0, 1, flow, time.Second, time.Now())
	second := a.Put(probe.Create(), 0, 1, flow, time.Second, time.Now())

	got, ok := a.MatchReply(flow)
	if !ok || got != first {
		t.Fatalf("expected the oldest outstanding probe %v to match first, got %v", first, got)
	}
	a.Release(first)

	got, ok = a.MatchReply(flow)
	if !ok || got != second {
		t.Fatalf("expected the remaining probe %v to match next, got %v", second, got)
	}
}

func TestArenaReleaseRejectsStaleGeneration(t *testing.T) {
	a := newArena()
	flow := probe.FlowID{Protocol: probe.ProtocolUDP}

	id := a.Put(probe.Create(), 0, 1, flow, time.Second, time.Now())
	a.Release(id)

	// Re-use the freed slot with a fresh generation.
	reused := a.Put(probe.Create(), 0, 1, flow, time.Second, time.Now())
	if reused.Index != id.Index {
		t.Fatalf("expected the freed slot to be reused")
	}
	if reused.Generation == id.Generation {
		t.Fatalf("expected a fresh generation on slot reuse")
	}

	if _, _, ok := a.Release(id); ok {
		t.Fatalf("expected Release with a stale generation to fail")
	}
}

func TestArenaExpiredAndDropAll(t *testing.T) {
	a := newArena()
	flow := probe.FlowID{Protocol: probe.ProtocolUDP}
	now := time.Now()

	expired := a.Put(probe.Create(), 0, 1, flow, time.Millisecond, now.Add(-time.Second))
	live := a.Put(probe.Create(), 0, 2, probe.FlowID{Protocol: probe.ProtocolUDP, DstPort: 1}, time.Hour, now)

	ex := a.Expired(now)
	if len(ex) != 1 || ex[0] != expired {
		t.Fatalf("Expired = %v, want only %v", ex, expired)
	}

	all := a.DropAll()
	if len(all) != 2 {
		t.Fatalf("DropAll = %v, want 2 live entries", all)
	}
	_ = live
}
