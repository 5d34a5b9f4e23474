// Package algorithm defines the contract every traceroute-family
// engine (classical, Paris-mode, MDA) implements, and a name-keyed
// registry CLIs use to select one.
package algorithm

import (
	"fmt"

	"github.com/ecmptrace/paristraceroute/event"
	"github.com/ecmptrace/paristraceroute/internal/errclass"
	"github.com/ecmptrace/paristraceroute/lattice"
	"github.com/ecmptrace/paristraceroute/network"
)

// Options carries the run-wide parameters common to every algorithm:
// target, first/max TTL, per-probe timeout, and retry count. Algorithm
// implementations read what they need and ignore the rest.
type Options struct {
	Target     string
	FirstTTL   int
	MaxTTL     int
	Retries    int
	Timeout    int // milliseconds
	MaxBranch  int // MDA safety cap, ignored outside MDA
	Confidence float64

	SrcPort uint16
	DstPort uint16
}

// Algorithm produces Instances bound to one network/bus pair. A single
// Algorithm value is stateless and reusable; all per-run state lives
// in the Instance it returns.
type Algorithm interface {
	// Name identifies the algorithm for the registry and for event
	// Issuer attribution.
	Name() string

	// NewInstance creates a fresh run against net/bus/lattice, applying
	// opts. The returned Instance is driven exclusively by the loop.
	NewInstance(net *network.Network, bus *event.Bus, lat *lattice.Lattice, opts Options) (Instance, error)
}

// Instance is one running algorithm, driven by the loop: Start emits
// the first probes, OnEvent reacts to everything the bus delivers,
// Done reports terminal state, Stop asks for early termination.
type Instance interface {
	// Start emits the initial probe(s).
	Start() error

	// OnEvent reacts to a single bus event addressed to this instance
	// (events are delivered to every subscriber; an instance ignores
	// ones it didn't cause by checking whether the event's probe id is
	// one it sent).
	OnEvent(e event.Event) error

	// Done reports whether the instance has reached a terminal state
	// (destination reached, max TTL exhausted, or Stop was called).
	Done() bool

	// Stop requests early termination; outstanding probes are dropped
	// by the caller via network.DropOutstanding.
	Stop()
}

// Registry maps algorithm names to constructors.
type Registry struct {
	byName map[string]Algorithm
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Algorithm)}
}

// Register adds a to the registry under a.Name(), overwriting any
// previous registration with the same name.
func (r *Registry) Register(a Algorithm) {
	r.byName[a.Name()] = a
}

// Lookup resolves name to its Algorithm, or ErrUnknownAlgorithm.
func (r *Registry) Lookup(name string) (Algorithm, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("algorithm %q: %w", name, errclass.ErrUnknownAlgorithm)
	}
	return a, nil
}

// Names returns every registered algorithm name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}
