// Package errclass defines the closed error taxonomy shared by every
// component of the engine.
package errclass

import "errors"

// Sentinel errors. Wrap these with fmt.Errorf("...: %w", ErrX) at the
// call site so callers can still errors.Is against the taxonomy.
var (
	// ErrUsage covers CLI conflicts, missing target, unparsable address.
	// Surfaced to stderr, non-zero exit, no packets sent.
	ErrUsage = errors.New("usage error")

	// ErrNetworkTransient covers single-probe timeout and ICMP
	// unreachable. Algorithms absorb it locally; it never reaches a
	// top-level caller.
	ErrNetworkTransient = errors.New("transient network condition")

	// ErrNetworkFatal covers raw socket creation/send failure. It
	// terminates the instance and the loop.
	ErrNetworkFatal = errors.New("fatal network error")

	// ErrSchemaFrozen: a probe's protocol layers were set again after
	// the first field write.
	ErrSchemaFrozen = errors.New("probe schema frozen")

	// ErrNonMonotonic: lattice.AddLink violated to.TTL == from.TTL+1.
	ErrNonMonotonic = errors.New("non-monotonic lattice edge")

	// ErrUnknownAlgorithm: algorithm name not present in the registry.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrBranchCapReached: MDA hit its max_branch safety cap. This is a
	// warning event, not a terminal error.
	ErrBranchCapReached = errors.New("branch cap reached")

	// ErrInvalidAlgorithm: -M passed together with an explicit
	// non-mda algorithm.
	ErrInvalidAlgorithm = errors.New("invalid algorithm selection")

	// ErrInvalidFlowOption: -f (flow label) passed for an IPv4 run.
	ErrInvalidFlowOption = errors.New("invalid flow option")
)

// IsTransient reports whether err is, or wraps, one of the transient conditions
// an algorithm is expected to absorb rather than propagate.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkTransient)
}

// IsFatal reports whether err should terminate the owning instance and
// the loop (ErrNetworkFatal), as opposed to a programming invariant
// violation that panics during development.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNetworkFatal)
}
