package probe

import (
	"net"
	"time"
)

// Reply is a probe-shaped record carrying the bytes received in
// answer to an outstanding probe. It names its originating probe by
// ProbeID rather than by pointer, so dropping the probe from the
// network layer's arena never leaves a dangling reference here.
type Reply struct {
	ProbeID    ProbeID
	ReceivedAt time.Time

	// SourceAddr is the address of the ICMP/UDP/TCP message that
	// terminated the probe (the responding router, or the
	// destination itself).
	SourceAddr net.IP

	// TTL is the TTL quoted in the ICMP-embedded header, when present.
	TTL int

	// FlowID is the flow identifier recovered from the ICMP-quoted
	// header (or the exact 5-tuple for a TCP reset/SYN-ACK), used for
	// the reply-to-probe matching predicate.
	FlowID FlowID

	// ICMPType/ICMPCode classify the ICMP message when the reply
	// originated from ICMP, used to distinguish "destination reached"
	// from "administrative failure".
	ICMPType int
	ICMPCode int

	Raw []byte
}

// IsFromDestination reports whether the reply's source address is the
// original probe's destination — the only condition under which an
// ICMP administrative failure counts as "destination reached".
func (r Reply) IsFromDestination(dst net.IP) bool {
	return r.SourceAddr != nil && r.SourceAddr.Equal(dst)
}
