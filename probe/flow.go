package probe

import "net"

// Protocol identifies the transport/network protocol a FlowID was
// computed for.
type Protocol int

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
	ProtocolICMP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "udp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolICMP:
		return "icmp"
	default:
		return "unknown"
	}
}

// FlowID is the tuple of header fields load balancers hash on for
// per-flow ECMP. It is comparable, so it can be used as a map key in
// the network layer's outstanding-probe table.
type FlowID struct {
	Protocol  Protocol
	SrcAddr   string // net.IP.String(), comparable
	DstAddr   string
	SrcPort   uint16 // UDP/TCP only
	DstPort   uint16 // UDP/TCP only
	ICMPID    uint16 // ICMP only
	FlowLabel uint32 // IPv6 only, 0 if unset

	// WireTag is the IPv4 Identification field the probe was sent
	// with. Unlike TTL, it survives unmodified in the header an ICMP
	// error quotes back, so it is the disambiguator the outstanding
	// table actually matches replies against instead of TTL. Always 0
	// for IPv6, which has no equivalent fixed-header field.
	WireTag uint16
}

// Equal reports whether two flow identifiers hash the same way under
// per-flow ECMP. Used to assert the Paris-mode invariant: identical
// FlowID across every probe of a single-path run. WireTag is ignored,
// since load balancers do not hash on it and it differs per probe.
func (f FlowID) Equal(other FlowID) bool {
	f.WireTag, other.WireTag = 0, 0
	return f == other
}

// NewUDPFlowID builds the flow identifier for a UDP probe.
func NewUDPFlowID(src, dst net.IP, srcPort, dstPort uint16) FlowID {
	return FlowID{Protocol: ProtocolUDP, SrcAddr: src.String(), DstAddr: dst.String(), SrcPort: srcPort, DstPort: dstPort}
}

// NewTCPFlowID builds the flow identifier for a TCP probe.
func NewTCPFlowID(src, dst net.IP, srcPort, dstPort uint16) FlowID {
	return FlowID{Protocol: ProtocolTCP, SrcAddr: src.String(), DstAddr: dst.String(), SrcPort: srcPort, DstPort: dstPort}
}

// NewICMPFlowID builds the flow identifier for an ICMP echo probe.
func NewICMPFlowID(src, dst net.IP, icmpID uint16) FlowID {
	return FlowID{Protocol: ProtocolICMP, SrcAddr: src.String(), DstAddr: dst.String(), ICMPID: icmpID}
}

// WithFlowLabel returns a copy of f with the IPv6 flow label fixed, for
// the rare load balancer that additionally hashes on it.
func (f FlowID) WithFlowLabel(label uint32) FlowID {
	f.FlowLabel = label
	return f
}

// WithWireTag returns a copy of f with its wire tag fixed.
func (f FlowID) WithWireTag(tag uint16) FlowID {
	f.WireTag = tag
	return f
}
