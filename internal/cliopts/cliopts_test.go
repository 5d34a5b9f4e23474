package cliopts

import (
	"errors"
	"testing"

	"github.com/ecmptrace/paristraceroute/internal/errclass"
)

func TestTraceOptionsValidateMissingTarget(t *testing.T) {
	o := NewTraceOptions()
	if err := o.Validate(); !errors.Is(err, errclass.ErrUsage) {
		t.Fatalf("expected ErrUsage, got %v", err)
	}
}

func TestTraceOptionsValidateTTLRange(t *testing.T) {
	o := NewTraceOptions()
	o.Target = "10.0.0.1"
	o.FirstTTL = 0
	if err := o.Validate(); !errors.Is(err, errclass.ErrUsage) {
		t.Fatalf("expected ErrUsage for first_ttl=0, got %v", err)
	}
}

func TestTraceOptionsValidateTTLOrdering(t *testing.T) {
	o := NewTraceOptions()
	o.Target = "10.0.0.1"
	o.FirstTTL = 10
	o.MaxTTL = 5
	if err := o.Validate(); !errors.Is(err, errclass.ErrUsage) {
		t.Fatalf("expected ErrUsage for max_ttl < first_ttl, got %v", err)
	}
}

func TestTraceOptionsValidateUnknownAlgorithm(t *testing.T) {
	o := NewTraceOptions()
	o.Target = "10.0.0.1"
	o.Algorithm = "bogus"
	if err := o.Validate(); !errors.Is(err, errclass.ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestApplyMDAParamsConflictsWithExplicitAlgorithm(t *testing.T) {
	o := NewTraceOptions()
	o.Target = "10.0.0.1"
	o.SetAlgorithmExplicit("traceroute")
	if err := o.ApplyMDAParams(0.1, 8, true); !errors.Is(err, errclass.ErrInvalidAlgorithm) {
		t.Fatalf("expected ErrInvalidAlgorithm, got %v", err)
	}
}

func TestApplyMDAParamsImpliesMDA(t *testing.T) {
	o := NewTraceOptions()
	o.Target = "10.0.0.1"
	if err := o.ApplyMDAParams(0.1, 8, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Algorithm != "mda" {
		t.Fatalf("expected algorithm mda, got %q", o.Algorithm)
	}
	if o.Bound != 0.1 || o.MaxBranch != 8 {
		t.Fatalf("expected bound/max_branch to be applied, got %v/%v", o.Bound, o.MaxBranch)
	}
}

func TestPingOptionsValidateMutualExclusivity(t *testing.T) {
	o := NewPingOptions()
	o.Target = "10.0.0.1"
	o.IPv4 = true
	o.IPv6 = true
	if err := o.Validate(); !errors.Is(err, errclass.ErrUsage) {
		t.Fatalf("expected ErrUsage for ipv4+ipv6, got %v", err)
	}
}

func TestPingOptionsValidateFlowLabelRequiresIPv6(t *testing.T) {
	o := NewPingOptions()
	o.Target = "10.0.0.1"
	o.FlowLabelSet = true
	if err := o.Validate(); !errors.Is(err, errclass.ErrInvalidFlowOption) {
		t.Fatalf("expected ErrInvalidFlowOption, got %v", err)
	}
}

func TestTargetFromArgsTakesLastArg(t *testing.T) {
	target, err := TargetFromArgs([]string{"-f", "1", "example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != "example.com" {
		t.Fatalf("got %q, want example.com", target)
	}
}

func TestTargetFromArgsEmpty(t *testing.T) {
	if _, err := TargetFromArgs(nil); !errors.Is(err, errclass.ErrUsage) {
		t.Fatalf("expected ErrUsage, got %v", err)
	}
}
