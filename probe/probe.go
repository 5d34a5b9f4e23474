// Package probe implements the typed Probe/Reply record: an ordered
// stack of protocol layers plus a payload, with named field accessors
// type-checked against each field's declared width.
package probe

import (
	"fmt"
	"time"

	"github.com/ecmptrace/paristraceroute/internal/errclass"
)

// ProbeID identifies a probe without a pointer, so a Reply can name its
// originating Probe without creating a reference cycle. The network
// layer's arena owns the index/generation allocation; a zero ProbeID
// means "not yet emitted".
type ProbeID struct {
	Index      uint32
	Generation uint32
}

// Valid reports whether id refers to a real arena slot.
func (id ProbeID) Valid() bool { return id.Generation != 0 }

// Probe is an ordered stack of protocol layers plus a payload. It is
// fully mutable until SetField is first called, at which point its
// layer stack is frozen: a further SetProtocols call fails with
// ErrSchemaFrozen. Each emitted probe is owned by the network layer
// until reply-or-timeout.
type Probe struct {
	id      ProbeID
	layers  []Layer
	payload []byte
	frozen  bool
	start   time.Time
}

// Create returns a new, empty Probe.
func Create() *Probe {
	return &Probe{}
}

// SetProtocols replaces the probe's layer stack. Idempotent until the
// first SetField call; after that it returns ErrSchemaFrozen-wrapped
// error (the caller is expected to check with errors.Is against
// errclass.ErrSchemaFrozen).
func (p *Probe) SetProtocols(ls ...Layer) error {
	if p.frozen {
		return fmt.Errorf("probe: cannot set protocols: %w", errclass.ErrSchemaFrozen)
	}
	p.layers = ls
	return nil
}

// layerByName resolves name to its layer, or the sole layer when name
// is empty and there's no ambiguity.
func (p *Probe) layerByName(name string) (Layer, error) {
	if name == "" {
		switch len(p.layers) {
		case 0:
			return nil, fmt.Errorf("probe: no layers set")
		case 1:
			return p.layers[0], nil
		default:
			return nil, fmt.Errorf("probe: ambiguous field write, specify a layer name")
		}
	}
	for _, l := range p.layers {
		if l.Name() == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("probe: no layer named %q", name)
}

// SetField resolves the owning layer (layerName may be empty when
// unambiguous) and writes field to value. The first call on a probe
// freezes its layer stack.
func (p *Probe) SetField(layerName, field string, value any) error {
	l, err := p.layerByName(layerName)
	if err != nil {
		return err
	}
	if err := l.SetField(field, value); err != nil {
		return err
	}
	p.frozen = true
	return nil
}

// FieldAssignment is one entry passed to SetFields.
type FieldAssignment struct {
	Layer string // empty to resolve unambiguously
	Field string
	Value any
}

// SetFields applies a batch of field writes atomically: if any
// assignment fails, none are applied.
func (p *Probe) SetFields(assignments ...FieldAssignment) error {
	// Validate everything against a cloned layer stack first, so a
	// failure midway doesn't leave a partially written probe.
	trial := p.Clone()
	trial.frozen = false
	for _, a := range assignments {
		if err := trial.SetField(a.Layer, a.Field, a.Value); err != nil {
			return err
		}
	}
	for _, a := range assignments {
		if err := p.SetField(a.Layer, a.Field, a.Value); err != nil {
			return err
		}
	}
	return nil
}

// SetPayloadSize resizes the probe's payload blob, zero-filling it.
func (p *Probe) SetPayloadSize(n int) {
	p.payload = make([]byte, n)
}

// Payload returns the probe's current payload blob.
func (p *Probe) Payload() []byte { return p.payload }

// Layers returns the probe's current layer stack, outermost first.
func (p *Probe) Layers() []Layer { return p.layers }

// ID returns the probe's arena identity, or a zero ProbeID if it has
// not yet been emitted.
func (p *Probe) ID() ProbeID { return p.id }

// SetID is called by the network layer's arena when the probe is
// emitted.
func (p *Probe) SetID(id ProbeID) { p.id = id }

// Start returns the time the probe was sent, or the zero time if it
// has not been sent yet.
func (p *Probe) Start() time.Time { return p.start }

// SetStart records the send timestamp.
func (p *Probe) SetStart(t time.Time) { p.start = t }

// Clone returns an independent copy owned by the caller.
func (p *Probe) Clone() *Probe {
	cp := &Probe{
		layers:  make([]Layer, len(p.layers)),
		payload: append([]byte(nil), p.payload...),
		frozen:  p.frozen,
		start:   p.start,
	}
	for i, l := range p.layers {
		cp.layers[i] = l.Clone()
	}
	return cp
}

// Free releases the probe. Reads never block and there is nothing to
// flush; Free exists so callers have a single place to stop using a
// probe.
func (p *Probe) Free() {
	p.layers = nil
	p.payload = nil
}

// FlowID computes the flow identifier this probe would be sent with.
// It inspects the IPv4/IPv6 and transport layers directly rather than
// going through the named-field accessors, since the flow identifier
// is a cross-cutting view over several layers at once.
func (p *Probe) FlowID() (FlowID, error) {
	var (
		srcIP, dstIP string
		flowLabel    uint32
		proto        Protocol
		srcPort      uint16
		dstPort      uint16
		icmpID       uint16
		wireTag      uint16
		sawTransport bool
	)
	for _, l := range p.layers {
		switch t := l.(type) {
		case *IPv4Layer:
			srcIP, dstIP = t.l.SrcIP.String(), t.l.DstIP.String()
			wireTag = t.l.Id
		case *IPv6Layer:
			srcIP, dstIP = t.l.SrcIP.String(), t.l.DstIP.String()
			flowLabel = t.l.FlowLabel
		case *UDPLayer:
			proto, srcPort, dstPort, sawTransport = ProtocolUDP, uint16(t.l.SrcPort), uint16(t.l.DstPort), true
		case *TCPLayer:
			proto, srcPort, dstPort, sawTransport = ProtocolTCP, uint16(t.l.SrcPort), uint16(t.l.DstPort), true
		case *ICMPLayer:
			proto, sawTransport = ProtocolICMP, true
			if t.ipv6 {
				icmpID = t.l6echo.Identifier
			} else {
				icmpID = t.l.Id
			}
		}
	}
	if !sawTransport {
		return FlowID{}, fmt.Errorf("probe: no transport layer set")
	}
	return FlowID{
		Protocol:  proto,
		SrcAddr:   srcIP,
		DstAddr:   dstIP,
		SrcPort:   srcPort,
		DstPort:   dstPort,
		ICMPID:    icmpID,
		FlowLabel: flowLabel,
		WireTag:   wireTag,
	}, nil
}

// TTL returns the TTL (IPv4) or hop limit (IPv6) carried by the
// probe's network layer.
func (p *Probe) TTL() (int, error) {
	for _, l := range p.layers {
		switch t := l.(type) {
		case *IPv4Layer:
			return int(t.l.TTL), nil
		case *IPv6Layer:
			return int(t.l.HopLimit), nil
		}
	}
	return 0, fmt.Errorf("probe: no network layer set")
}
