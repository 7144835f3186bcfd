// Package sim provides the transfer simulation engine for a PCIe-attached
// accelerator device.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - ring.go: the descriptor ring (submission/completion, overrun/underrun)
//   - fault.go: error scenarios and the per-transfer Bernoulli fault trial
//   - stats.go: the statistics aggregator and its snapshot contract
//   - device.go: the transfer orchestrator tying the pieces together
//
// # Architecture
//
// The sim package defines interfaces and the engine; implementations live in
// sub-packages:
//   - sim/latency/: timing models (per-KiB and per-MiB throughput classes)
//   - sim/backend/: the privileged control-channel backend and the two
//     in-process simulation backends
//   - sim/record/: transfer record schema and CSV session writer
//   - sim/workload/: transfer patterns, run specs and pacing
//   - sim/runner/: pattern, stress and benchmark runs
//   - sim/metrics/: Prometheus collector over device snapshots
//
// sim/latency registers its constructor via init() by setting the
// package-level factory variable NewLatencyModelFunc.
//
// # Key Interfaces
//
//   - LatencyModel: maps size, direction and throughput class to a latency
//   - RandomSource: jitter and fault-trial randomness, injectable for tests
//   - Sleeper: the blocking wait for a transfer's simulated latency
package sim
