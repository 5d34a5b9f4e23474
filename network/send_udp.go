package network

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/ipv6"

	"github.com/ecmptrace/paristraceroute/probe"
)

// sendUDP dispatches to a version-specific send path. IPv4 goes out
// through a raw, header-included socket (mirroring sendTCP) rather
// than a plain net.ListenUDP socket: only header-include mode lets the
// probe pin its own IP Identification field, which is the tag the
// arena later matches an ICMP error's quoted header against, since the
// quoted TTL itself isn't recoverable (it reflects the decremented
// value at the point of drop). IPv6 has no equivalent spare header
// field, so it keeps the plain kernel-socket path.
func (n *Network) sendUDP(p *probe.Probe, ttl int) error {
	var (
		ipv4L *probe.IPv4Layer
		ipv6L *probe.IPv6Layer
		udpL  *layers.UDP
	)
	for _, l := range p.Layers() {
		switch t := l.(type) {
		case *probe.IPv4Layer:
			ipv4L = t
		case *probe.IPv6Layer:
			ipv6L = t
		case *probe.UDPLayer:
			udpL = t.Serializable().(*layers.UDP)
		}
	}
	if udpL == nil {
		return fmt.Errorf("udp probe: no udp layer set")
	}

	switch {
	case ipv4L != nil:
		return sendUDPv4(ipv4L, udpL, p.Payload(), ttl)
	case ipv6L != nil:
		return sendUDPv6(ipv6L, udpL, p.Payload(), ttl)
	default:
		return fmt.Errorf("udp probe: no network layer set")
	}
}

func sendUDPv4(ipv4L *probe.IPv4Layer, udpL *layers.UDP, payload []byte, ttl int) error {
	ip4 := ipv4L.Serializable().(*layers.IPv4)
	ip4.TTL = uint8(ttl)
	ip4.Protocol = layers.IPProtocolUDP
	if err := udpL.SetNetworkLayerForChecksum(ip4); err != nil {
		return fmt.Errorf("udp probe: checksum setup: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip4, udpL, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("udp probe: serialize: %w", err)
	}
	return sendRawIPv4(buf.Bytes(), net.IP(ip4.DstIP), ttl, int(layers.IPProtocolUDP))
}

func sendUDPv6(ipv6L *probe.IPv6Layer, udpL *layers.UDP, payload []byte, ttl int) error {
	dst, err := ipv6L.GetField("dst_ip")
	if err != nil {
		return err
	}
	dstIP, _ := dst.(net.IP)
	if dstIP == nil {
		return fmt.Errorf("udp probe: no destination address set")
	}
	src, _ := ipv6L.GetField("src_ip")
	srcIP, _ := src.(net.IP)

	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: srcIP, Port: int(udpL.SrcPort)})
	if err != nil {
		return fmt.Errorf("udp probe: listen: %w", err)
	}
	defer conn.Close()

	if err := ipv6.NewConn(conn).SetHopLimit(ttl); err != nil {
		return fmt.Errorf("udp probe: set hop limit: %w", err)
	}

	if _, err := conn.WriteToUDP(payload, &net.UDPAddr{IP: dstIP, Port: int(udpL.DstPort)}); err != nil {
		return fmt.Errorf("udp probe: write: %w", err)
	}
	return nil
}
