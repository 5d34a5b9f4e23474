package network

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/ecmptrace/paristraceroute/probe"
)

// parseICMPReply turns one raw ICMP datagram into a Reply plus the
// flow identifier the arena should be matched against. icmpErr is true
// for TIME_EXCEEDED/DESTINATION_UNREACHABLE (the probe's own quoted
// header carries the match key); it is false for ECHO_REPLY (the
// match key comes from the echo's own id/seq, since nothing is
// quoted).
func parseICMPReply(data []byte, peer net.Addr, recvAt time.Time, v6 bool) (reply *probe.Reply, icmpErr bool, flow probe.FlowID, err error) {
	proto := ipv4ICMPProto
	if v6 {
		proto = ipv6ICMPProto
	}
	msg, err := icmp.ParseMessage(proto, data)
	if err != nil {
		return nil, false, probe.FlowID{}, fmt.Errorf("parse icmp message: %w", err)
	}

	srcIP := addrIP(peer)
	icmpType := rawICMPType(msg.Type, v6)

	switch body := msg.Body.(type) {
	case *icmp.TimeExceeded:
		f, t, perr := parseQuotedHeader(body.Data, v6)
		if perr != nil {
			return nil, false, probe.FlowID{}, perr
		}
		return &probe.Reply{
			ReceivedAt: recvAt,
			SourceAddr: srcIP,
			TTL:        t,
			FlowID:     f,
			ICMPType:   icmpType,
			ICMPCode:   msg.Code,
			Raw:        data,
		}, true, f, nil

	case *icmp.DstUnreach:
		f, t, perr := parseQuotedHeader(body.Data, v6)
		if perr != nil {
			return nil, false, probe.FlowID{}, perr
		}
		return &probe.Reply{
			ReceivedAt: recvAt,
			SourceAddr: srcIP,
			TTL:        t,
			FlowID:     f,
			ICMPType:   icmpType,
			ICMPCode:   msg.Code,
			Raw:        data,
		}, true, f, nil

	case *icmp.Echo:
		f := probe.NewICMPFlowID(nil, srcIP, uint16(body.ID))
		return &probe.Reply{
			ReceivedAt: recvAt,
			SourceAddr: srcIP,
			FlowID:     f,
			Raw:        data,
		}, false, f, nil

	default:
		return nil, false, probe.FlowID{}, fmt.Errorf("parse icmp message: unsupported body %T", msg.Body)
	}
}

const (
	ipv4ICMPProto = 1
	ipv6ICMPProto = 58
)

// rawICMPType extracts the numeric ICMP type, since icmp.Type is a
// protocol-tagged interface (ipv4.ICMPType or ipv6.ICMPType) rather
// than a plain int.
func rawICMPType(t icmp.Type, v6 bool) int {
	if v6 {
		if tv, ok := t.(ipv6.ICMPType); ok {
			return int(tv)
		}
		return 0
	}
	if tv, ok := t.(ipv4.ICMPType); ok {
		return int(tv)
	}
	return 0
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPAddr:
		return v.IP
	case *net.UDPAddr:
		return v.IP
	default:
		return nil
	}
}

// parseQuotedHeader recovers the flow identifier and TTL of the probe
// that elicited an ICMP error, from the inner IP+transport header the
// router quoted back.
func parseQuotedHeader(quoted []byte, v6 bool) (probe.FlowID, int, error) {
	if v6 {
		return parseQuotedIPv6(quoted)
	}
	return parseQuotedIPv4(quoted)
}

func parseQuotedIPv4(quoted []byte) (probe.FlowID, int, error) {
	h, err := ipv4.ParseHeader(quoted)
	if err != nil {
		return probe.FlowID{}, 0, fmt.Errorf("parse quoted ipv4 header: %w", err)
	}
	ttl := h.TTL
	// The quoted header's own TTL is whatever the dropping router
	// decremented it to, not what the probe was sent with; the IP
	// Identification field, by contrast, passes through routers
	// untouched, so it is what the arena actually matches on.
	tag := uint16(h.ID)
	transport := quoted[h.Len:]

	switch h.Protocol {
	case 17: // UDP
		if len(transport) < 8 {
			return probe.FlowID{}, 0, fmt.Errorf("quoted udp header truncated")
		}
		srcPort := binary.BigEndian.Uint16(transport[0:2])
		dstPort := binary.BigEndian.Uint16(transport[2:4])
		return probe.NewUDPFlowID(h.Src, h.Dst, srcPort, dstPort).WithWireTag(tag), ttl, nil
	case 6: // TCP
		if len(transport) < 4 {
			return probe.FlowID{}, 0, fmt.Errorf("quoted tcp header truncated")
		}
		srcPort := binary.BigEndian.Uint16(transport[0:2])
		dstPort := binary.BigEndian.Uint16(transport[2:4])
		return probe.NewTCPFlowID(h.Src, h.Dst, srcPort, dstPort).WithWireTag(tag), ttl, nil
	case 1: // ICMP
		if len(transport) < 6 {
			return probe.FlowID{}, 0, fmt.Errorf("quoted icmp header truncated")
		}
		id := binary.BigEndian.Uint16(transport[4:6])
		return probe.NewICMPFlowID(h.Src, h.Dst, id), ttl, nil
	default:
		return probe.FlowID{}, 0, fmt.Errorf("quoted header: unsupported protocol %d", h.Protocol)
	}
}

func parseQuotedIPv6(quoted []byte) (probe.FlowID, int, error) {
	// golang.org/x/net/ipv6 has no ParseHeader; the fixed 40-byte
	// header is decoded by hand, matching the documented layout. The
	// fixed header carries no Identification-style field to recover a
	// wire tag from, so matching for v6 falls back to flow+ports alone.
	if len(quoted) < 40 {
		return probe.FlowID{}, 0, fmt.Errorf("quoted ipv6 header truncated")
	}
	hopLimit := int(quoted[7])
	nextHeader := quoted[6]
	src := net.IP(quoted[8:24])
	dst := net.IP(quoted[24:40])
	transport := quoted[40:]

	switch nextHeader {
	case 17: // UDP
		if len(transport) < 8 {
			return probe.FlowID{}, 0, fmt.Errorf("quoted udp header truncated")
		}
		srcPort := binary.BigEndian.Uint16(transport[0:2])
		dstPort := binary.BigEndian.Uint16(transport[2:4])
		return probe.NewUDPFlowID(src, dst, srcPort, dstPort), hopLimit, nil
	case 6: // TCP
		if len(transport) < 4 {
			return probe.FlowID{}, 0, fmt.Errorf("quoted tcp header truncated")
		}
		srcPort := binary.BigEndian.Uint16(transport[0:2])
		dstPort := binary.BigEndian.Uint16(transport[2:4])
		return probe.NewTCPFlowID(src, dst, srcPort, dstPort), hopLimit, nil
	case 58: // ICMPv6
		if len(transport) < 6 {
			return probe.FlowID{}, 0, fmt.Errorf("quoted icmpv6 header truncated")
		}
		id := binary.BigEndian.Uint16(transport[4:6])
		return probe.NewICMPFlowID(src, dst, id), hopLimit, nil
	default:
		return probe.FlowID{}, 0, fmt.Errorf("quoted header: unsupported next header %d", nextHeader)
	}
}

