package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/pcie-sim/pcie-sim/sim/backend"
)

// BenchConfig is a fixed-size benchmark. Transfers are issued round-robin
// across devices, Transfers per device.
type BenchConfig struct {
	Devices   int
	Size      int
	Transfers int
	// Warmup transfers per device run before the statistics reset.
	Warmup int
}

// DefaultBenchConfig is 1000 transfers of 4 KiB after 100 warmup transfers.
func DefaultBenchConfig() BenchConfig {
	return BenchConfig{Devices: 1, Size: 4096, Transfers: 1000, Warmup: 100}
}

// Validate checks the benchmark bounds.
func (c BenchConfig) Validate() error {
	if c.Devices < 1 || c.Devices > sim.MaxDevices {
		return fmt.Errorf("bench devices %d out of range [1, %d]", c.Devices, sim.MaxDevices)
	}
	if c.Size < sim.MinTransferSize || c.Size > sim.MaxTransferSize {
		return fmt.Errorf("bench size %d out of range [%d, %d]", c.Size, sim.MinTransferSize, sim.MaxTransferSize)
	}
	if c.Transfers < 1 {
		return fmt.Errorf("bench transfers must be >= 1, got %d", c.Transfers)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("bench warmup must be >= 0, got %d", c.Warmup)
	}
	return nil
}

// BenchResult holds per-device metrics and their wall-clock total.
type BenchResult struct {
	Devices []PerformanceMetrics
	// Total throughput is bytes over the measured wall time.
	Total   PerformanceMetrics
	Elapsed time.Duration
}

// RunBenchmark resets every device, runs the warmup, resets again and then
// times the measured transfers. Pacing does not apply.
func (r *Runner) RunBenchmark(ctx context.Context, cfg BenchConfig) (*BenchResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	handles := make([]backend.Handle, 0, cfg.Devices)
	defer func() {
		for _, h := range handles {
			closeHandle(h)
		}
	}()
	for id := 0; id < cfg.Devices; id++ {
		h, err := r.b.Open(id)
		if err != nil {
			return nil, fmt.Errorf("opening device %d: %w", id, err)
		}
		handles = append(handles, h)
	}

	req := sim.TransferRequest{Size: cfg.Size, Direction: r.cfg.Direction, Class: r.cfg.Class}
	if err := resetAll(handles); err != nil {
		return nil, err
	}
	if cfg.Warmup > 0 {
		if err := r.roundRobin(ctx, handles, req, cfg.Warmup, false); err != nil {
			return nil, fmt.Errorf("warmup: %w", err)
		}
		if err := resetAll(handles); err != nil {
			return nil, err
		}
	}

	start := r.now()
	if err := r.roundRobin(ctx, handles, req, cfg.Transfers, true); err != nil {
		return nil, err
	}
	res := &BenchResult{Elapsed: r.now().Sub(start)}
	for _, h := range handles {
		snap, err := h.Stats()
		if err != nil {
			return nil, err
		}
		res.Devices = append(res.Devices, FromStats(snap))
	}
	res.Total = Combine(res.Elapsed, res.Devices...)
	return res, nil
}

// roundRobin issues n transfers to every handle, one device at a time per
// round. Measured transfers are recorded; warmup transfers are not.
func (r *Runner) roundRobin(ctx context.Context, handles []backend.Handle, req sim.TransferRequest, n int, measured bool) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, h := range handles {
			if !measured {
				if _, err := h.Transfer(req); sim.KindOf(err) == sim.KindBackendUnavailable {
					return err
				}
				continue
			}
			if _, err := r.transfer(h, req, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func resetAll(handles []backend.Handle) error {
	for _, h := range handles {
		if err := h.ResetStats(); err != nil {
			return fmt.Errorf("resetting device %d: %w", h.DeviceID(), err)
		}
	}
	return nil
}
