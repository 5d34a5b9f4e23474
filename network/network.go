// Package network implements the raw-socket I/O layer: it sends
// probes, matches replies against the outstanding-probe table, applies
// a per-probe timeout, and posts REPLY/TIMEOUT/ICMP_ERROR events to the
// loop's bus. Retries are an algorithm concern; this layer never
// resends on its own.
package network

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"

	"github.com/ecmptrace/paristraceroute/event"
	"github.com/ecmptrace/paristraceroute/internal/errclass"
	"github.com/ecmptrace/paristraceroute/probe"
)

// rawRead is one inbound packet handed from a listener goroutine to
// the loop thread. The loop thread is the only place outstanding-probe
// state is touched, so this channel is the sole synchronization point.
type rawRead struct {
	v6     bool
	data   []byte
	peer   net.Addr
	recvAt time.Time
}

// Network is the I/O layer. It is driven exclusively from the loop's
// goroutine via Poll; the only other goroutines it owns are the two
// ICMP listener readers, which never touch shared state directly.
type Network struct {
	cfg   *Config
	bus   *event.Bus
	arena *arena

	icmp4 *icmp.PacketConn
	icmp6 *icmp.PacketConn

	reads chan rawRead
	done  chan struct{}
}

// New opens the raw ICMP listeners (IPv4 and IPv6) used to catch
// TIME_EXCEEDED / DESTINATION_UNREACHABLE / ECHO_REPLY messages, and
// returns a Network ready to Send probes against bus.
func New(cfg *Config, bus *event.Bus) (*Network, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Verbose && cfg.Logger != nil {
		cfg.Logger.Logger.SetLevel(logrus.DebugLevel)
	}

	icmp4, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("network: open icmpv4 listener: %w: %v", errclass.ErrNetworkFatal, err)
	}
	icmp6, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		icmp4.Close()
		return nil, fmt.Errorf("network: open icmpv6 listener: %w: %v", errclass.ErrNetworkFatal, err)
	}

	n := &Network{
		cfg:   cfg,
		bus:   bus,
		arena: newArena(),
		icmp4: icmp4,
		icmp6: icmp6,
		reads: make(chan rawRead, 64),
		done:  make(chan struct{}),
	}

	go n.readLoop(icmp4, false)
	go n.readLoop(icmp6, true)

	return n, nil
}

func (n *Network) readLoop(conn *icmp.PacketConn, v6 bool) {
	buf := make([]byte, 1500)
	for {
		sz, peer, err := conn.ReadFrom(buf)
		select {
		case <-n.done:
			return
		default:
		}
		if err != nil {
			continue
		}
		data := make([]byte, sz)
		copy(data, buf[:sz])
		select {
		case n.reads <- rawRead{v6: v6, data: data, peer: peer, recvAt: time.Now()}:
		case <-n.done:
			return
		}
	}
}

// SetTimeout changes the default per-probe wait.
func (n *Network) SetTimeout(d time.Duration) { n.cfg.Timeout = d }

// Send emits probe p, cloning nothing itself — the caller passes a
// fully-populated probe built for this one emission, which the network
// layer then owns until reply-or-timeout. tag is an
// algorithm-chosen disambiguator (e.g. a branching context id) carried
// alongside the outstanding entry but never placed on the wire.
func (n *Network) Send(p *probe.Probe, tag uint64) (probe.ProbeID, error) {
	flow, err := p.FlowID()
	if err != nil {
		return probe.ProbeID{}, fmt.Errorf("network: %w", err)
	}
	ttl, err := p.TTL()
	if err != nil {
		return probe.ProbeID{}, fmt.Errorf("network: %w", err)
	}

	switch flow.Protocol {
	case probe.ProtocolUDP:
		err = n.sendUDP(p, ttl)
	case probe.ProtocolTCP:
		err = n.sendTCP(p, ttl)
	case probe.ProtocolICMP:
		err = n.sendICMPEcho(p, ttl)
	default:
		err = fmt.Errorf("network: unsupported protocol %v", flow.Protocol)
	}
	if err != nil {
		return probe.ProbeID{}, fmt.Errorf("network: send failed: %w: %v", errclass.ErrNetworkFatal, err)
	}

	now := time.Now()
	p.SetStart(now)
	id := n.arena.Put(p, tag, ttl, flow, n.cfg.Timeout, now)
	n.cfg.Logger.WithFields(map[string]any{
		"flow": flow, "ttl": ttl, "tag": tag,
	}).Debug("probe sent")
	return id, nil
}

// Poll drains any replies received since the last call, waiting up to
// quantum for at least one if none is already buffered, then fires
// expired timers. It is the network layer's half of one loop
// iteration.
func (n *Network) Poll(quantum time.Duration) {
	// Drain whatever is already buffered without blocking.
	for drained := false; ; {
		select {
		case r := <-n.reads:
			n.handleRead(r)
			drained = true
		default:
			if !drained {
				// Nothing buffered yet: wait up to quantum for one read
				// so the loop doesn't busy-spin between timer ticks.
				select {
				case r := <-n.reads:
					n.handleRead(r)
				case <-time.After(quantum):
				}
			}
			n.fireExpired(time.Now())
			return
		}
	}
}

func (n *Network) handleRead(r rawRead) {
	reply, icmpErr, matchFlow, err := parseICMPReply(r.data, r.peer, r.recvAt, r.v6)
	if err != nil {
		n.cfg.Logger.WithField("err", err).Debug("unparseable ICMP message, dropped")
		return
	}

	id, ok := n.arena.MatchReply(matchFlow)
	if !ok {
		return
	}
	p, _, ok := n.arena.Release(id)
	if !ok {
		return
	}
	reply.ProbeID = id
	defer p.Free()

	if icmpErr {
		n.bus.Post(event.New(event.TypeICMPError, "", reply))
		return
	}
	n.bus.Post(event.New(event.TypeReply, "", reply))
}

func (n *Network) fireExpired(now time.Time) {
	for _, id := range n.arena.Expired(now) {
		p, _, ok := n.arena.Release(id)
		if !ok {
			continue
		}
		p.Free()
		n.bus.Post(event.New(event.TypeTimeout, "", id))
	}
}

// DropOutstanding releases every outstanding probe, used when an
// instance stops or the loop terminates: their replies, if any arrive
// later, are dropped since the arena slot is no longer live.
func (n *Network) DropOutstanding() {
	for _, id := range n.arena.DropAll() {
		if p, _, ok := n.arena.Release(id); ok {
			p.Free()
		}
	}
}

// Close releases the raw sockets. No further Send/Poll calls are
// valid afterward.
func (n *Network) Close() error {
	close(n.done)
	err4 := n.icmp4.Close()
	err6 := n.icmp6.Close()
	if err4 != nil {
		return err4
	}
	return err6
}
