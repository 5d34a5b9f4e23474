package network

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/ecmptrace/paristraceroute/probe"
)

// sendTCP writes a single raw SYN segment with the probe's TTL/hop
// limit. No local socket is bound, so this is fire-and-forget: a
// SYN-ACK from the destination is caught by the kernel's own TCP stack
// and typically answered with an unsolicited RST, which is harmless —
// the probe only cares about the SYN eliciting a reply, not about
// completing a handshake.
func (n *Network) sendTCP(p *probe.Probe, ttl int) error {
	var (
		ipv4L *probe.IPv4Layer
		ipv6L *probe.IPv6Layer
		tcpL  *layers.TCP
	)
	for _, l := range p.Layers() {
		switch t := l.(type) {
		case *probe.IPv4Layer:
			ipv4L = t
		case *probe.IPv6Layer:
			ipv6L = t
		case *probe.TCPLayer:
			tcpL = t.Serializable().(*layers.TCP)
		}
	}
	if tcpL == nil {
		return fmt.Errorf("tcp probe: no tcp layer set")
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	switch {
	case ipv4L != nil:
		ip4 := ipv4L.Serializable().(*layers.IPv4)
		ip4.TTL = uint8(ttl)
		ip4.Protocol = layers.IPProtocolTCP
		if err := tcpL.SetNetworkLayerForChecksum(ip4); err != nil {
			return fmt.Errorf("tcp probe: checksum setup: %w", err)
		}
		if err := gopacket.SerializeLayers(buf, opts, ip4, tcpL, gopacket.Payload(p.Payload())); err != nil {
			return fmt.Errorf("tcp probe: serialize: %w", err)
		}
		return sendRawIPv4(buf.Bytes(), net.IP(ip4.DstIP), ttl, int(layers.IPProtocolTCP))

	case ipv6L != nil:
		ip6 := ipv6L.Serializable().(*layers.IPv6)
		ip6.HopLimit = uint8(ttl)
		ip6.NextHeader = layers.IPProtocolTCP
		if err := tcpL.SetNetworkLayerForChecksum(ip6); err != nil {
			return fmt.Errorf("tcp probe: checksum setup: %w", err)
		}
		// Only the TCP segment is serialized: the kernel fills in its
		// own IPv6 header for a plain IP_PROTO_TCP raw socket.
		if err := gopacket.SerializeLayers(buf, opts, tcpL, gopacket.Payload(p.Payload())); err != nil {
			return fmt.Errorf("tcp probe: serialize: %w", err)
		}
		return sendRawIPv6(buf.Bytes(), net.IP(ip6.DstIP), ttl)

	default:
		return fmt.Errorf("tcp probe: no network layer set")
	}
}
