package probe

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// FieldWidth is the declared width of a layer field, used to
// type-check writes.
type FieldWidth int

const (
	WidthI8 FieldWidth = iota
	WidthI16
	WidthStr
	WidthAddress
)

// Layer is one entry in a Probe's protocol stack. Concrete layers wrap
// a gopacket.SerializableLayer and expose named field accessors on top
// of it; gopacket owns the actual wire encoding.
type Layer interface {
	// Name is the layer identifier used to disambiguate SetField calls
	// ("ipv4", "ipv6", "udp", "tcp", "icmp").
	Name() string

	// FieldWidth returns the declared width of a field, or an error if
	// the layer does not have such a field.
	FieldWidth(field string) (FieldWidth, error)

	// GetField reads a field's current value.
	GetField(field string) (any, error)

	// SetField type-checks and writes a field.
	SetField(field string, value any) error

	// Clone returns an independent copy, used when a probe skeleton is
	// emitted.
	Clone() Layer

	// Serializable exposes the underlying gopacket layer for encoding.
	Serializable() gopacket.SerializableLayer
}

// ---- IPv4Layer ----

type IPv4Layer struct{ l layers.IPv4 }

func NewIPv4Layer() *IPv4Layer {
	return &IPv4Layer{l: layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP}}
}

func (x *IPv4Layer) Name() string { return "ipv4" }

func (x *IPv4Layer) FieldWidth(field string) (FieldWidth, error) {
	switch field {
	case "ttl":
		return WidthI8, nil
	case "ip_id":
		return WidthI16, nil
	case "src_ip", "dst_ip":
		return WidthAddress, nil
	default:
		return 0, fmt.Errorf("ipv4: no such field %q", field)
	}
}

func (x *IPv4Layer) GetField(field string) (any, error) {
	switch field {
	case "ttl":
		return x.l.TTL, nil
	case "ip_id":
		return x.l.Id, nil
	case "src_ip":
		return x.l.SrcIP, nil
	case "dst_ip":
		return x.l.DstIP, nil
	default:
		return nil, fmt.Errorf("ipv4: no such field %q", field)
	}
}

func (x *IPv4Layer) SetField(field string, value any) error {
	switch field {
	case "ttl":
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("ipv4.ttl: expected int, got %T", value)
		}
		x.l.TTL = uint8(v)
	case "ip_id":
		v, ok := value.(int)
		if !ok {
			if v16, ok16 := value.(uint16); ok16 {
				v = int(v16)
			} else {
				return fmt.Errorf("ipv4.ip_id: expected int, got %T", value)
			}
		}
		x.l.Id = uint16(v)
	case "src_ip", "dst_ip":
		ip, ok := value.(net.IP)
		if !ok {
			return fmt.Errorf("ipv4.%s: expected net.IP, got %T", field, value)
		}
		if field == "src_ip" {
			x.l.SrcIP = ip
		} else {
			x.l.DstIP = ip
		}
	default:
		return fmt.Errorf("ipv4: no such field %q", field)
	}
	return nil
}

func (x *IPv4Layer) Clone() Layer {
	cp := *x
	return &cp
}

func (x *IPv4Layer) Serializable() gopacket.SerializableLayer { return &x.l }

// ---- IPv6Layer ----

type IPv6Layer struct{ l layers.IPv6 }

func NewIPv6Layer() *IPv6Layer {
	return &IPv6Layer{l: layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP}}
}

func (x *IPv6Layer) Name() string { return "ipv6" }

func (x *IPv6Layer) FieldWidth(field string) (FieldWidth, error) {
	switch field {
	case "ttl", "hop_limit":
		return WidthI8, nil
	case "flow_label":
		return WidthI16, nil
	case "src_ip", "dst_ip":
		return WidthAddress, nil
	default:
		return 0, fmt.Errorf("ipv6: no such field %q", field)
	}
}

func (x *IPv6Layer) GetField(field string) (any, error) {
	switch field {
	case "ttl", "hop_limit":
		return x.l.HopLimit, nil
	case "flow_label":
		return x.l.FlowLabel, nil
	case "src_ip":
		return x.l.SrcIP, nil
	case "dst_ip":
		return x.l.DstIP, nil
	default:
		return nil, fmt.Errorf("ipv6: no such field %q", field)
	}
}

func (x *IPv6Layer) SetField(field string, value any) error {
	switch field {
	case "ttl", "hop_limit":
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("ipv6.%s: expected int, got %T", field, value)
		}
		x.l.HopLimit = uint8(v)
	case "flow_label":
		v, ok := value.(uint32)
		if !ok {
			return fmt.Errorf("ipv6.flow_label: expected uint32, got %T", value)
		}
		x.l.FlowLabel = v
	case "src_ip", "dst_ip":
		ip, ok := value.(net.IP)
		if !ok {
			return fmt.Errorf("ipv6.%s: expected net.IP, got %T", field, value)
		}
		if field == "src_ip" {
			x.l.SrcIP = ip
		} else {
			x.l.DstIP = ip
		}
	default:
		return fmt.Errorf("ipv6: no such field %q", field)
	}
	return nil
}

func (x *IPv6Layer) Clone() Layer {
	cp := *x
	return &cp
}

func (x *IPv6Layer) Serializable() gopacket.SerializableLayer { return &x.l }

// ---- UDPLayer ----

type UDPLayer struct{ l layers.UDP }

func NewUDPLayer() *UDPLayer { return &UDPLayer{} }

func (x *UDPLayer) Name() string { return "udp" }

func (x *UDPLayer) FieldWidth(field string) (FieldWidth, error) {
	switch field {
	case "src_port", "dst_port":
		return WidthI16, nil
	default:
		return 0, fmt.Errorf("udp: no such field %q", field)
	}
}

func (x *UDPLayer) GetField(field string) (any, error) {
	switch field {
	case "src_port":
		return uint16(x.l.SrcPort), nil
	case "dst_port":
		return uint16(x.l.DstPort), nil
	default:
		return nil, fmt.Errorf("udp: no such field %q", field)
	}
}

func (x *UDPLayer) SetField(field string, value any) error {
	v, ok := value.(int)
	if !ok {
		if v16, ok16 := value.(uint16); ok16 {
			v = int(v16)
		} else {
			return fmt.Errorf("udp.%s: expected int, got %T", field, value)
		}
	}
	switch field {
	case "src_port":
		x.l.SrcPort = layers.UDPPort(v)
	case "dst_port":
		x.l.DstPort = layers.UDPPort(v)
	default:
		return fmt.Errorf("udp: no such field %q", field)
	}
	return nil
}

func (x *UDPLayer) Clone() Layer {
	cp := *x
	return &cp
}

func (x *UDPLayer) Serializable() gopacket.SerializableLayer { return &x.l }

// ---- TCPLayer ----

type TCPLayer struct{ l layers.TCP }

func NewTCPLayer() *TCPLayer { return &TCPLayer{l: layers.TCP{SYN: true, Window: 14600}} }

func (x *TCPLayer) Name() string { return "tcp" }

func (x *TCPLayer) FieldWidth(field string) (FieldWidth, error) {
	switch field {
	case "src_port", "dst_port":
		return WidthI16, nil
	default:
		return 0, fmt.Errorf("tcp: no such field %q", field)
	}
}

func (x *TCPLayer) GetField(field string) (any, error) {
	switch field {
	case "src_port":
		return uint16(x.l.SrcPort), nil
	case "dst_port":
		return uint16(x.l.DstPort), nil
	default:
		return nil, fmt.Errorf("tcp: no such field %q", field)
	}
}

func (x *TCPLayer) SetField(field string, value any) error {
	v, ok := value.(int)
	if !ok {
		if v16, ok16 := value.(uint16); ok16 {
			v = int(v16)
		} else {
			return fmt.Errorf("tcp.%s: expected int, got %T", field, value)
		}
	}
	switch field {
	case "src_port":
		x.l.SrcPort = layers.TCPPort(v)
	case "dst_port":
		x.l.DstPort = layers.TCPPort(v)
	default:
		return fmt.Errorf("tcp: no such field %q", field)
	}
	return nil
}

func (x *TCPLayer) Clone() Layer {
	cp := *x
	return &cp
}

func (x *TCPLayer) Serializable() gopacket.SerializableLayer { return &x.l }

// ---- ICMPLayer (v4 echo) ----

type ICMPLayer struct {
	l      layers.ICMPv4
	ipv6   bool
	l6     layers.ICMPv6
	l6echo layers.ICMPv6Echo
}

func NewICMPLayer(ipv6 bool) *ICMPLayer {
	if ipv6 {
		return &ICMPLayer{ipv6: true, l6: layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(128, 0)}}
	}
	return &ICMPLayer{l: layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}}
}

func (x *ICMPLayer) Name() string { return "icmp" }

func (x *ICMPLayer) FieldWidth(field string) (FieldWidth, error) {
	switch field {
	case "icmp_id", "icmp_seq":
		return WidthI16, nil
	default:
		return 0, fmt.Errorf("icmp: no such field %q", field)
	}
}

func (x *ICMPLayer) GetField(field string) (any, error) {
	switch field {
	case "icmp_id":
		if x.ipv6 {
			return x.l6echo.Identifier, nil
		}
		return x.l.Id, nil
	case "icmp_seq":
		if x.ipv6 {
			return x.l6echo.SeqNumber, nil
		}
		return x.l.Seq, nil
	default:
		return nil, fmt.Errorf("icmp: no such field %q", field)
	}
}

func (x *ICMPLayer) SetField(field string, value any) error {
	v, ok := value.(int)
	if !ok {
		if v16, ok16 := value.(uint16); ok16 {
			v = int(v16)
		} else {
			return fmt.Errorf("icmp.%s: expected int, got %T", field, value)
		}
	}
	switch field {
	case "icmp_id":
		if x.ipv6 {
			x.l6echo.Identifier = uint16(v)
		} else {
			x.l.Id = uint16(v)
		}
	case "icmp_seq":
		if x.ipv6 {
			x.l6echo.SeqNumber = uint16(v)
		} else {
			x.l.Seq = uint16(v)
		}
	default:
		return fmt.Errorf("icmp: no such field %q", field)
	}
	return nil
}

func (x *ICMPLayer) Clone() Layer {
	cp := *x
	return &cp
}

func (x *ICMPLayer) Serializable() gopacket.SerializableLayer {
	if x.ipv6 {
		return &x.l6
	}
	return &x.l
}
