// Package traceroute implements single-path TTL sweeps: classical
// (source port drawn at random for every probe) and Paris mode (fixed
// source port, so every probe of a run shares one flow identifier).
package traceroute

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/ecmptrace/paristraceroute/algorithm"
	"github.com/ecmptrace/paristraceroute/event"
	"github.com/ecmptrace/paristraceroute/lattice"
	"github.com/ecmptrace/paristraceroute/network"
	"github.com/ecmptrace/paristraceroute/probe"
)

// Mode selects whether the source port is pinned across the sweep.
type Mode int

const (
	ModeClassical Mode = iota
	ModeParis
)

// Algorithm implements algorithm.Algorithm for a single Mode.
type Algorithm struct {
	mode Mode
}

// New returns the algorithm instance factory for mode. name is
// "traceroute" for classical mode and "paris-traceroute" for Paris
// mode, matching the CLI's -a values.
func New(mode Mode) *Algorithm {
	return &Algorithm{mode: mode}
}

func (a *Algorithm) Name() string {
	if a.mode == ModeParis {
		return "paris-traceroute"
	}
	return "traceroute"
}

// defaultProbesPerTTL is the default probe count per hop, overridable via a
// non-zero Options.Retries (borrowed as the probe-count knob here
// since a single-path sweep never retries a timeout — it just counts
// the TTL toward the gap-stopping rule instead).
const defaultProbesPerTTL = 3

// gapLimit is the number of consecutive full-loss TTLs that stops the
// run early at the default probe count. The run's own threshold is its
// probe count per TTL (probesPerTTL), so it equals gapLimit unless
// Options.Retries overrides that count.
const gapLimit = defaultProbesPerTTL

func (a *Algorithm) NewInstance(nw *network.Network, bus *event.Bus, lat *lattice.Lattice, opts algorithm.Options) (algorithm.Instance, error) {
	dstIP := net.ParseIP(opts.Target)
	if dstIP == nil {
		return nil, fmt.Errorf("traceroute: %q is not a literal IP address", opts.Target)
	}
	srcIP, err := nw.LocalAddrFor(dstIP)
	if err != nil {
		return nil, fmt.Errorf("traceroute: %w", err)
	}

	probesPerTTL := opts.Retries
	if probesPerTTL <= 0 {
		probesPerTTL = defaultProbesPerTTL
	}

	timeout := time.Duration(opts.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	nw.SetTimeout(timeout)

	firstTTL := opts.FirstTTL
	if firstTTL <= 0 {
		firstTTL = 1
	}
	maxTTL := opts.MaxTTL
	if maxTTL <= 0 {
		maxTTL = 30
	}

	srcPort := opts.SrcPort
	if srcPort == 0 {
		srcPort = 3083
	}
	dstPort := opts.DstPort
	if dstPort == 0 {
		dstPort = 30000
	}

	inst := &instance{
		net:          nw,
		bus:          bus,
		lat:          lat,
		name:         a.Name(),
		mode:         a.mode,
		dst:          dstIP,
		srcIP:        srcIP,
		ttl:          firstTTL,
		maxTTL:       maxTTL,
		probesPerTTL: probesPerTTL,
		srcPort:      srcPort,
		dstPort:      dstPort,
		prevNode:     nil,
		outstanding:  make(map[probe.ProbeID]*pending),
	}
	return inst, nil
}

type pending struct {
	ttl int
}

type instance struct {
	net *network.Network
	bus *event.Bus
	lat *lattice.Lattice

	name  string
	mode  Mode
	dst   net.IP
	srcIP net.IP

	ttl          int
	maxTTL       int
	probesPerTTL int
	srcPort      uint16
	dstPort      uint16

	sentAtTTL     int
	repliesAtTTL  int
	fullLossCount int

	prevNode *lattice.Node
	done     bool
	stopped  bool

	outstanding map[probe.ProbeID]*pending
}

func (in *instance) Start() error {
	return in.sweepTTL()
}

// sweepTTL emits probesPerTTL probes at the current TTL and resets the
// per-TTL reply/outstanding bookkeeping.
func (in *instance) sweepTTL() error {
	in.sentAtTTL = 0
	in.repliesAtTTL = 0
	for i := 0; i < in.probesPerTTL; i++ {
		if err := in.emitProbe(); err != nil {
			return err
		}
	}
	return nil
}

func (in *instance) emitProbe() error {
	p := probe.Create()

	srcPort := in.srcPort
	if in.mode == ModeClassical {
		srcPort = uint16(1024 + rand.Intn(60000))
	}

	ip4 := probe.NewIPv4Layer()
	if err := ip4.SetField("ttl", in.ttl); err != nil {
		return err
	}
	if err := ip4.SetField("src_ip", in.srcIP); err != nil {
		return err
	}
	if err := ip4.SetField("dst_ip", in.dst); err != nil {
		return err
	}
	// A fresh IP Identification value per probe is the tag the arena
	// matches an ICMP error's quoted header against, since the quoted
	// TTL can't be recovered.
	if err := ip4.SetField("ip_id", 1+rand.Intn(65535)); err != nil {
		return err
	}
	udp := probe.NewUDPLayer()
	if err := udp.SetField("src_port", int(srcPort)); err != nil {
		return err
	}
	if err := udp.SetField("dst_port", int(in.dstPort)); err != nil {
		return err
	}
	if err := p.SetProtocols(ip4, udp); err != nil {
		return err
	}

	id, err := in.net.Send(p, 0)
	if err != nil {
		return fmt.Errorf("traceroute: %w", err)
	}
	in.outstanding[id] = &pending{ttl: in.ttl}
	in.sentAtTTL++
	return nil
}

func (in *instance) OnEvent(e event.Event) error {
	if in.done {
		return nil
	}
	switch e.Type {
	case event.TypeReply:
		return in.onReply(e.Data.(*probe.Reply))
	case event.TypeICMPError:
		return in.onICMPError(e.Data.(*probe.Reply))
	case event.TypeTimeout:
		return in.onTimeout(e.Data.(probe.ProbeID))
	}
	return nil
}

func (in *instance) onReply(r *probe.Reply) error {
	pend, ok := in.takeOutstanding(r.ProbeID)
	if !ok {
		return nil
	}
	in.record(pend.ttl, r.SourceAddr)
	reachedDest := r.SourceAddr != nil && r.SourceAddr.Equal(in.dst)
	return in.afterOneResult(reachedDest)
}

func (in *instance) onICMPError(r *probe.Reply) error {
	pend, ok := in.takeOutstanding(r.ProbeID)
	if !ok {
		return nil
	}
	in.record(pend.ttl, r.SourceAddr)
	reachedDest := r.IsFromDestination(in.dst)
	return in.afterOneResult(reachedDest)
}

func (in *instance) onTimeout(id probe.ProbeID) error {
	if _, ok := in.takeOutstanding(id); !ok {
		return nil
	}
	return in.afterOneResult(false)
}

func (in *instance) takeOutstanding(id probe.ProbeID) (*pending, bool) {
	p, ok := in.outstanding[id]
	if ok {
		delete(in.outstanding, id)
	}
	return p, ok
}

func (in *instance) record(ttl int, addr net.IP) {
	in.repliesAtTTL++
	node := in.lat.AddInterface(ttl, addr)
	if in.prevNode != nil && in.prevNode.TTL == ttl-1 {
		in.lat.AddLink(in.prevNode, node)
	}
	in.prevNode = node
}

// afterOneResult advances the sweep once every outstanding probe at
// the current TTL has resolved (reply, ICMP error, or timeout).
func (in *instance) afterOneResult(reachedDest bool) error {
	if reachedDest {
		in.done = true
		in.bus.Post(event.New(event.TypeAlgorithmTerminated, in.name, in.lat))
		return nil
	}
	if len(in.outstanding) > 0 {
		return nil
	}
	if in.repliesAtTTL == 0 {
		in.fullLossCount++
	} else {
		in.fullLossCount = 0
	}
	if in.fullLossCount >= in.probesPerTTL || in.ttl >= in.maxTTL || in.stopped {
		in.done = true
		in.bus.Post(event.New(event.TypeAlgorithmTerminated, in.name, in.lat))
		return nil
	}
	in.ttl++
	return in.sweepTTL()
}

func (in *instance) Done() bool { return in.done }

func (in *instance) Stop() {
	in.stopped = true
	if len(in.outstanding) == 0 {
		in.done = true
		in.bus.Post(event.New(event.TypeAlgorithmTerminated, in.name, in.lat))
	}
}
