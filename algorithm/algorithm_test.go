package algorithm

import (
	"errors"
	"testing"

	"github.com/ecmptrace/paristraceroute/event"
	"github.com/ecmptrace/paristraceroute/internal/errclass"
	"github.com/ecmptrace/paristraceroute/lattice"
	"github.com/ecmptrace/paristraceroute/network"
)

type stubAlgorithm struct{ name string }

func (s stubAlgorithm) Name() string { return s.name }
func (s stubAlgorithm) NewInstance(*network.Network, *event.Bus, *lattice.Lattice, Options) (Instance, error) {
	return nil, nil
}

func TestRegistryLookupUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup("mda"); !errors.Is(err, errclass.ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAlgorithm{name: "mda"})
	a, err := r.Lookup("mda")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "mda" {
		t.Fatalf("got algorithm %q, want mda", a.Name())
	}
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAlgorithm{name: "mda"})
	r.Register(stubAlgorithm{name: "mda"})
	if len(r.Names()) != 1 {
		t.Fatalf("expected one name after re-registering, got %v", r.Names())
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAlgorithm{name: "mda"})
	r.Register(stubAlgorithm{name: "traceroute"})
	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
}
