package persist

// Decision points at which a fault provider is consulted. They mark the
// durability-critical boundaries: after each one the operation has
// externally visible effects that recovery must tolerate.
const (
	FaultPreWrite  = "pre-write"
	FaultPreCAS    = "pre-cas"
	FaultPreDelete = "pre-delete"
)

// Faults injects deterministic failures at the designated decision points.
// Production wiring leaves ShardOptions.Faults nil, which installs the no-op
// provider; only test configurations supply a real one.
type Faults interface {
	// Fail returns a non-nil error to abort the operation at the given
	// point, simulating a crash between two durable steps.
	Fail(point string) error
}

type nopFaults struct{}

func (nopFaults) Fail(string) error { return nil }
