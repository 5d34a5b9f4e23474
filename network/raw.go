package network

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// rawListenNetwork returns the "ip4:<proto>" network name
// net.ListenPacket recognizes for the given IP protocol number.
func rawListenNetwork(proto int) string {
	switch proto {
	case 17:
		return "ip4:udp"
	default:
		return "ip4:tcp"
	}
}

// sendRawIPv4 writes a fully-serialized IPv4 packet (header included)
// through a raw socket, letting the kernel leave the header untouched
// (ipv4.RawConn with HeaderInclude) so the TTL and Identification this
// probe set actually reach the wire.
func sendRawIPv4(wire []byte, dst net.IP, ttl int, proto int) error {
	packetConn, err := net.ListenPacket(rawListenNetwork(proto), "0.0.0.0")
	if err != nil {
		return fmt.Errorf("raw ipv4: listen: %w", err)
	}
	defer packetConn.Close()

	raw, err := ipv4.NewRawConn(packetConn)
	if err != nil {
		return fmt.Errorf("raw ipv4: new raw conn: %w", err)
	}

	// wire already starts with the probe's own serialized IPv4 header;
	// split it off so RawConn writes that header rather than a new one.
	header, err := ipv4.ParseHeader(wire)
	if err != nil {
		return fmt.Errorf("raw ipv4: parse serialized header: %w", err)
	}
	return raw.WriteTo(header, wire[header.Len:], nil)
}

// sendRawIPv6 writes a raw TCP segment over a v6 raw socket. The IPv6
// header itself is not hand-assembled (golang.org/x/net/ipv6 has no
// HeaderInclude-style raw conn); instead the kernel fills the header
// for a plain IP_PROTO_TCP raw socket, and the hop limit is set via
// PacketConn.SetHopLimit.
func sendRawIPv6(wire []byte, dst net.IP, ttl int) error {
	packetConn, err := net.ListenPacket("ip6:tcp", "::")
	if err != nil {
		return fmt.Errorf("raw ipv6: listen: %w", err)
	}
	defer packetConn.Close()

	pc := ipv6.NewPacketConn(packetConn)
	if err := pc.SetHopLimit(ttl); err != nil {
		return fmt.Errorf("raw ipv6: set hop limit: %w", err)
	}

	_, err = packetConn.WriteTo(wire, &net.IPAddr{IP: dst})
	if err != nil {
		return fmt.Errorf("raw ipv6: write: %w", err)
	}
	return nil
}
