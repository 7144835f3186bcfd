package sim

import "time"

// LatencyModel maps a transfer to its simulated latency.
// Implementations must be pure functions of their inputs plus rng: no hidden
// state, no side effects. Jitter is drawn from rng only.
type LatencyModel interface {
	// TransferLatency returns baseline + size term (+20% for FromDevice) + jitter.
	// class is never ClassDefault; the device resolves it first.
	TransferLatency(size int, dir Direction, class ThroughputClass, rng RandomSource) time.Duration
}

// NewLatencyModelFunc is the factory for the default LatencyModel.
// Set by sim/latency's init(); nil until that package is imported.
var NewLatencyModelFunc func() (LatencyModel, error)

// LatencyModelFunc adapts a function to LatencyModel.
type LatencyModelFunc func(size int, dir Direction, class ThroughputClass, rng RandomSource) time.Duration

func (f LatencyModelFunc) TransferLatency(size int, dir Direction, class ThroughputClass, rng RandomSource) time.Duration {
	return f(size, dir, class, rng)
}
