package network

import (
	"fmt"
	"net"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/ecmptrace/paristraceroute/probe"
)

// sendICMPEcho writes an ICMP echo request out through the already-open
// shared listener rather than a fresh socket, so the echo reply (or
// the surrounding time-exceeded quoting it) is caught by the same
// readLoop that already demultiplexes every other ICMP arrival.
func (n *Network) sendICMPEcho(p *probe.Probe, ttl int) error {
	var (
		dstIP   net.IP
		v6      bool
		id, seq int
	)
	for _, l := range p.Layers() {
		switch t := l.(type) {
		case *probe.IPv6Layer:
			v6 = true
			ip, err := t.GetField("dst_ip")
			if err != nil {
				return err
			}
			dstIP = ip.(net.IP)
		case *probe.IPv4Layer:
			ip, err := t.GetField("dst_ip")
			if err != nil {
				return err
			}
			dstIP = ip.(net.IP)
		case *probe.ICMPLayer:
			iid, _ := t.GetField("icmp_id")
			iseq, _ := t.GetField("icmp_seq")
			id, seq = int(iid.(uint16)), int(iseq.(uint16))
		}
	}
	if dstIP == nil {
		return fmt.Errorf("icmp probe: no destination address set")
	}
	payload := p.Payload()

	msgType := icmp.Type(ipv4.ICMPTypeEcho)
	conn := n.icmp4
	if v6 {
		msgType = icmp.Type(ipv6.ICMPTypeEchoRequest)
		conn = n.icmp6
	}

	msg := icmp.Message{
		Type: msgType,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: payload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("icmp probe: marshal: %w", err)
	}

	if v6 {
		if err := conn.IPv6PacketConn().SetHopLimit(ttl); err != nil {
			return fmt.Errorf("icmp probe: set hop limit: %w", err)
		}
	} else {
		if err := conn.IPv4PacketConn().SetTTL(ttl); err != nil {
			return fmt.Errorf("icmp probe: set ttl: %w", err)
		}
	}

	_, err = conn.WriteTo(wire, &net.IPAddr{IP: dstIP})
	if err != nil {
		return fmt.Errorf("icmp probe: write: %w", err)
	}
	return nil
}
