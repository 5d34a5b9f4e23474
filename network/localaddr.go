package network

import (
	"fmt"
	"net"
)

// LocalAddrFor returns the source address the kernel would pick to
// reach dst, discovered via a connected UDP socket that never writes
// a packet. The raw, header-included send paths need this value
// explicit: IP_HDRINCL means the kernel no longer fills the source
// address in on our behalf, and the probe's own FlowID has to carry
// whatever address actually ends up on the wire for replies to match.
func (n *Network) LocalAddrFor(dst net.IP) (net.IP, error) {
	udpNet := "udp4"
	if dst.To4() == nil {
		udpNet = "udp6"
	}
	conn, err := net.DialUDP(udpNet, nil, &net.UDPAddr{IP: dst, Port: 1})
	if err != nil {
		return nil, fmt.Errorf("network: discover local address for %s: %w", dst, err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
