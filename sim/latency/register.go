// register.go installs this package's constructor into sim.NewLatencyModelFunc.
// sim/ owns the interface and cannot import this package without a cycle, so
// importing sim/latency (directly, or blank from tests) is what makes
// sim.NewDevice usable without an explicit model.
package latency

import "github.com/pcie-sim/pcie-sim/sim"

func init() {
	sim.NewLatencyModelFunc = NewLatencyModel
}
