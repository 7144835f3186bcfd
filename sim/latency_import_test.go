package sim_test

// Registers sim.NewLatencyModelFunc for package sim's internal tests, which
// cannot import sim/latency directly without a cycle.
import _ "github.com/pcie-sim/pcie-sim/sim/latency"
