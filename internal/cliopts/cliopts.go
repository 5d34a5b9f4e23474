// Package cliopts holds the option-validation decisions shared by the
// paris-traceroute and ping front ends, so the
// two near-duplicate commands differ only in which algorithm they
// default to and which flags they expose.
package cliopts

import (
	"fmt"

	"github.com/ecmptrace/paristraceroute/internal/errclass"
)

// TraceOptions is the parsed, validated option set for the
// paris-traceroute front end.
type TraceOptions struct {
	Target    string
	IPv4      bool
	Protocol  string // "udp" (only one currently wired)
	FixedUDP  bool   // -U: fixed destination port 53
	FirstTTL  int
	MaxTTL    int
	Resolve   bool
	Wait      float64
	Bound     float64
	MaxBranch int
	Algorithm string
	SrcPort   int
	DstPort   int

	// explicitAlgorithm records whether -a was passed explicitly, to
	// detect the -M/-a conflict before -M's own default overwrites it.
	explicitAlgorithm bool
}

// NewTraceOptions returns a TraceOptions populated with the CLI's
// documented defaults.
func NewTraceOptions() *TraceOptions {
	return &TraceOptions{
		IPv4:      true,
		Protocol:  "udp",
		FirstTTL:  1,
		MaxTTL:    30,
		Resolve:   true,
		Wait:      5.0,
		Bound:     0.05,
		MaxBranch: 5,
		Algorithm: "mda",
		SrcPort:   3083,
		DstPort:   30000,
	}
}

// SetAlgorithmExplicit records that -a was passed on the command line,
// independent of whatever default Algorithm already holds.
func (o *TraceOptions) SetAlgorithmExplicit(name string) {
	o.Algorithm = name
	o.explicitAlgorithm = true
}

// ApplyMDAParams records that -M was passed with bound/max_branch, and
// applies the "-M implies -a mda" precedence rule. It must run after
// every flag has been parsed so the -a/-M conflict can be detected
// regardless of argument order.
func (o *TraceOptions) ApplyMDAParams(bound float64, maxBranch int, mdaFlagSet bool) error {
	if !mdaFlagSet {
		return nil
	}
	if o.explicitAlgorithm && o.Algorithm != "mda" {
		return fmt.Errorf("cliopts: -M given together with -a %s: %w", o.Algorithm, errclass.ErrInvalidAlgorithm)
	}
	o.Bound = bound
	o.MaxBranch = maxBranch
	o.Algorithm = "mda"
	return nil
}

// Validate checks the fully-parsed option set is internally
// consistent and returns an ErrUsage-wrapped message (ErrUnknownAlgorithm
// for an unknown algorithm name) on the first violation, before any
// packet is sent.
func (o *TraceOptions) Validate() error {
	if o.Target == "" {
		return fmt.Errorf("cliopts: missing target: %w", errclass.ErrUsage)
	}
	if o.FirstTTL < 1 || o.FirstTTL > 255 {
		return fmt.Errorf("cliopts: first_ttl out of range [1,255]: %w", errclass.ErrUsage)
	}
	if o.MaxTTL < 1 || o.MaxTTL > 255 {
		return fmt.Errorf("cliopts: max_ttl out of range [1,255]: %w", errclass.ErrUsage)
	}
	if o.MaxTTL < o.FirstTTL {
		return fmt.Errorf("cliopts: max_ttl below first_ttl: %w", errclass.ErrUsage)
	}
	if o.SrcPort < 0 || o.SrcPort > 65535 || o.DstPort < 0 || o.DstPort > 65535 {
		return fmt.Errorf("cliopts: port out of range [0,65535]: %w", errclass.ErrUsage)
	}
	switch o.Algorithm {
	case "mda", "traceroute", "paris-traceroute":
	default:
		return fmt.Errorf("cliopts: unknown algorithm %q: %w", o.Algorithm, errclass.ErrUnknownAlgorithm)
	}
	return nil
}

// PingOptions is the parsed, validated option set for the ping front
// end.
type PingOptions struct {
	Target      string
	IPv4, IPv6  bool
	UseICMP     bool
	UseTCP      bool
	UseUDP      bool
	FlowLabel   uint32
	FlowLabelSet bool
	Interface   string
	Interval    float64
	PacketSize  int
	TTL         int
}

// NewPingOptions returns a PingOptions populated with the CLI's
// documented defaults: ICMP, IPv4, ttl 64, one probe per second.
func NewPingOptions() *PingOptions {
	return &PingOptions{
		IPv4:       true,
		UseICMP:    true,
		Interval:   1.0,
		PacketSize: 56,
		TTL:        64,
	}
}

// Validate enforces the ping front end's mutual-exclusivity rules:
// at most one of -4/-6, at most one of icmp/tcp/udp, and -f only with
// IPv6.
func (o *PingOptions) Validate() error {
	if o.Target == "" {
		return fmt.Errorf("cliopts: missing target: %w", errclass.ErrUsage)
	}
	if o.IPv4 && o.IPv6 {
		return fmt.Errorf("cliopts: Cannot set both ip versions: %w", errclass.ErrUsage)
	}
	protoCount := 0
	for _, set := range []bool{o.UseICMP, o.UseTCP, o.UseUDP} {
		if set {
			protoCount++
		}
	}
	if protoCount > 1 {
		return fmt.Errorf("cliopts: cannot set more than one of icmp/tcp/udp: %w", errclass.ErrUsage)
	}
	if o.FlowLabelSet && !o.IPv6 {
		return fmt.Errorf("cliopts: flow label requires ipv6: %w", errclass.ErrInvalidFlowOption)
	}
	if o.PacketSize < 0 {
		return fmt.Errorf("cliopts: negative packet size: %w", errclass.ErrUsage)
	}
	if o.TTL < 1 || o.TTL > 255 {
		return fmt.Errorf("cliopts: ttl out of range [1,255]: %w", errclass.ErrUsage)
	}
	return nil
}

// TargetFromArgs resolves the positional target the way both front
// ends are documented to: the last element of argv, since both the
// trace and ping entry points are specified as taking their target
// there regardless of how many flags precede it.
func TargetFromArgs(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("cliopts: missing target: %w", errclass.ErrUsage)
	}
	return args[len(args)-1], nil
}
