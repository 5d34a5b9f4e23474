// Package mda implements the Multipath Detection Algorithm: at every
// branching point it sends enough distinct-flow probes to assert, with
// confidence 1-bound, that every next-hop interface has been found,
// then recurses into each confirmed interface as a new branching
// point.
package mda

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/ecmptrace/paristraceroute/algorithm"
	"github.com/ecmptrace/paristraceroute/event"
	"github.com/ecmptrace/paristraceroute/internal/errclass"
	"github.com/ecmptrace/paristraceroute/lattice"
	"github.com/ecmptrace/paristraceroute/network"
	"github.com/ecmptrace/paristraceroute/probe"
)

// NewLinkEvent is the payload of an ALGORITHM_EVENT posted whenever a
// new link is confirmed, the "MDA_NEW_LINK" subtype.
type NewLinkEvent struct {
	From, To *lattice.Node
}

const algorithmName = "mda"

// Algorithm implements algorithm.Algorithm for MDA.
type Algorithm struct{}

func New() *Algorithm { return &Algorithm{} }

func (a *Algorithm) Name() string { return algorithmName }

func (a *Algorithm) NewInstance(nw *network.Network, bus *event.Bus, lat *lattice.Lattice, opts algorithm.Options) (algorithm.Instance, error) {
	dstIP := net.ParseIP(opts.Target)
	if dstIP == nil {
		return nil, fmt.Errorf("mda: %q is not a literal IP address", opts.Target)
	}
	srcIP, err := nw.LocalAddrFor(dstIP)
	if err != nil {
		return nil, fmt.Errorf("mda: %w", err)
	}

	bound := opts.Confidence
	if bound <= 0 {
		bound = 0.05
	}
	maxBranch := opts.MaxBranch
	if maxBranch <= 0 {
		maxBranch = 5
	}
	firstTTL := opts.FirstTTL
	if firstTTL <= 0 {
		firstTTL = 1
	}
	maxTTL := opts.MaxTTL
	if maxTTL <= 0 {
		maxTTL = 30
	}
	dstPort := opts.DstPort
	if dstPort == 0 {
		dstPort = 30000
	}

	in := &instance{
		net:         nw,
		bus:         bus,
		lat:         lat,
		dst:         dstIP,
		srcIP:       srcIP,
		dstPort:     dstPort,
		maxTTL:      maxTTL,
		maxBranch:   maxBranch,
		table:       newStoppingTable(bound),
		byProbe:     make(map[probe.ProbeID]*branchContext),
		contexts:    make(map[int]*branchContext),
		branchCount: 0,
	}

	root := lat.AddInterface(firstTTL-1, net.ParseIP("0.0.0.0"))
	in.addContext(root, firstTTL)
	return in, nil
}

type branchContext struct {
	id    int
	pred  *lattice.Node
	ttl   int
	table *stoppingTable

	tried       int
	maxK        int
	interfaces  map[string]*lattice.Node
	outstanding map[probe.ProbeID]bool

	resolved    bool
	reachedDest bool
}

type instance struct {
	net *network.Network
	bus *event.Bus
	lat *lattice.Lattice

	dst     net.IP
	srcIP   net.IP
	dstPort uint16
	maxTTL  int

	maxBranch   int
	branchCount int
	capped      bool

	table    *stoppingTable
	contexts map[int]*branchContext
	byProbe  map[probe.ProbeID]*branchContext

	nextID  int
	done    bool
	stopped bool
}

func (in *instance) addContext(pred *lattice.Node, ttl int) *branchContext {
	in.branchCount++
	bc := &branchContext{
		id:          in.nextID,
		pred:        pred,
		ttl:         ttl,
		table:       in.table,
		interfaces:  make(map[string]*lattice.Node),
		outstanding: make(map[probe.ProbeID]bool),
	}
	in.nextID++
	in.contexts[bc.id] = bc
	return bc
}

func (in *instance) Start() error {
	for _, bc := range in.contexts {
		if err := in.fillContext(bc); err != nil {
			return err
		}
	}
	return nil
}

// fillContext emits probes until bc has caught up to its current
// threshold n(k, bound), one flow identifier per probe.
func (in *instance) fillContext(bc *branchContext) error {
	threshold := bc.table.n(len(bc.interfaces))
	if threshold > bc.maxK {
		bc.maxK = threshold
	}
	for bc.tried < bc.maxK {
		if err := in.emitProbe(bc); err != nil {
			return err
		}
	}
	return nil
}

func (in *instance) emitProbe(bc *branchContext) error {
	p := probe.Create()
	ip4 := probe.NewIPv4Layer()
	if err := ip4.SetField("ttl", bc.ttl); err != nil {
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
	// A fresh source port per probe is the ECMP-hash lever MDA varies
	// to sample distinct paths out of the same branching point.
	srcPort := 1024 + rand.Intn(60000)
	if err := udp.SetField("src_port", srcPort); err != nil {
		return err
	}
	if err := udp.SetField("dst_port", int(in.dstPort)); err != nil {
		return err
	}
	if err := p.SetProtocols(ip4, udp); err != nil {
		return err
	}

	id, err := in.net.Send(p, uint64(bc.id))
	if err != nil {
		return fmt.Errorf("mda: %w", err)
	}
	bc.outstanding[id] = true
	bc.tried++
	in.byProbe[id] = bc
	return nil
}

func (in *instance) OnEvent(e event.Event) error {
	if in.done {
		return nil
	}
	switch e.Type {
	case event.TypeReply:
		return in.onReply(e.Data.(*probe.Reply), false)
	case event.TypeICMPError:
		return in.onReply(e.Data.(*probe.Reply), true)
	case event.TypeTimeout:
		return in.onTimeout(e.Data.(probe.ProbeID))
	}
	return nil
}

func (in *instance) onReply(r *probe.Reply, icmpErr bool) error {
	bc, ok := in.byProbe[r.ProbeID]
	if !ok {
		return nil
	}
	delete(in.byProbe, r.ProbeID)
	delete(bc.outstanding, r.ProbeID)

	reachedDest := r.SourceAddr != nil && r.SourceAddr.Equal(in.dst)
	if icmpErr {
		reachedDest = r.IsFromDestination(in.dst)
	}

	key := addrKey(r.SourceAddr)
	node, seen := bc.interfaces[key]
	if !seen {
		node = in.lat.AddInterface(bc.ttl, r.SourceAddr)
		bc.interfaces[key] = node
		if _, err := in.lat.AddLink(bc.pred, node); err == nil {
			in.bus.Post(event.New(event.TypeAlgorithmEvent, algorithmName, NewLinkEvent{From: bc.pred, To: node}))
		}
	} else {
		in.lat.AddLink(bc.pred, node)
	}
	if reachedDest {
		bc.reachedDest = true
	}
	return in.settleContext(bc)
}

func (in *instance) onTimeout(id probe.ProbeID) error {
	bc, ok := in.byProbe[id]
	if !ok {
		return nil
	}
	delete(in.byProbe, id)
	delete(bc.outstanding, id)
	return in.settleContext(bc)
}

// settleContext re-evaluates bc's threshold (it may have grown if a
// new interface was just confirmed), emits more probes if still under
// budget, or resolves the context once its budget is exhausted and
// every outstanding probe has settled.
func (in *instance) settleContext(bc *branchContext) error {
	if len(bc.outstanding) > 0 {
		return nil
	}
	threshold := bc.table.n(len(bc.interfaces))
	if threshold > bc.maxK {
		bc.maxK = threshold
		return in.fillContext(bc)
	}
	if bc.tried < bc.maxK {
		return in.fillContext(bc)
	}

	bc.resolved = true
	return in.maybeRecurse(bc)
}

// maybeRecurse spawns a child branching context per newly confirmed
// interface, respecting the max_branch safety cap, unless the
// destination was reached at this branching point or the TTL ceiling
// is hit.
func (in *instance) maybeRecurse(bc *branchContext) error {
	if bc.reachedDest || bc.ttl >= in.maxTTL || in.stopped {
		return in.checkTermination()
	}
	for _, node := range bc.interfaces {
		if node.Address != nil && node.Address.Equal(in.dst) {
			continue
		}
		if in.branchCount >= in.maxBranch {
			in.capped = true
			in.bus.Post(event.New(event.TypeAlgorithmEvent, algorithmName, fmt.Errorf("mda: %w", errclass.ErrBranchCapReached)))
			continue
		}
		child := in.addContext(node, bc.ttl+1)
		if err := in.fillContext(child); err != nil {
			return err
		}
	}
	return in.checkTermination()
}

func (in *instance) checkTermination() error {
	for _, bc := range in.contexts {
		if !bc.resolved {
			return nil
		}
	}
	in.done = true
	in.bus.Post(event.New(event.TypeAlgorithmTerminated, algorithmName, in.lat))
	return nil
}

func addrKey(ip net.IP) string {
	if ip == nil {
		return "*"
	}
	return ip.String()
}

func (in *instance) Done() bool { return in.done }

func (in *instance) Stop() {
	in.stopped = true
	for _, bc := range in.contexts {
		bc.resolved = true
	}
	in.checkTermination()
}
