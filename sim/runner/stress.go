package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/pcie-sim/pcie-sim/sim/backend"
	"github.com/pcie-sim/pcie-sim/sim/record"
	"github.com/pcie-sim/pcie-sim/sim/workload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// StressConfig sizes a stress run. Worker i drives device i % Devices.
type StressConfig struct {
	Devices  int
	Threads  int
	Duration time.Duration
	// OnTransfer, if set, is called from the worker goroutine after every
	// transfer. It must be safe for concurrent use.
	OnTransfer func(record.TransferRecord)
}

// Validate checks the run bounds.
func (c StressConfig) Validate() error {
	if c.Devices < 1 || c.Devices > sim.MaxDevices {
		return fmt.Errorf("stress devices %d out of range [1, %d]", c.Devices, sim.MaxDevices)
	}
	if c.Threads < 1 || c.Threads > workload.MaxThreads {
		return fmt.Errorf("stress threads %d out of range [1, %d]", c.Threads, workload.MaxThreads)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("stress duration must be positive, got %v", c.Duration)
	}
	return nil
}

// WorkerResult is one stress worker's tally.
type WorkerResult struct {
	ThreadID   int
	DeviceID   int
	Transfers  uint64
	Faults     uint64
	Exceptions uint64
	// TotalLatency sums simulated latency over transfers that reached the device.
	TotalLatency time.Duration
}

// AvgLatency is TotalLatency over the transfers that reached the device.
func (w WorkerResult) AvgLatency() time.Duration {
	n := w.Transfers - w.Exceptions
	if n == 0 {
		return 0
	}
	return w.TotalLatency / time.Duration(n)
}

// StressResult is the outcome of a stress run.
type StressResult struct {
	Workers []WorkerResult
	// Devices holds each device's metrics at the end of the run, by id.
	Devices []PerformanceMetrics
	Total   PerformanceMetrics
	Elapsed time.Duration
}

// RunStress runs cfg.Threads workers for cfg.Duration. Each worker loops
// sample, transfer, record, paced at Pattern.StressGap(). Every stressed
// device is held open for the whole run so its statistics survive until
// they are read.
func (r *Runner) RunStress(ctx context.Context, cfg StressConfig) (*StressResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	devices := min(cfg.Devices, cfg.Threads)
	held := make([]backend.Handle, 0, devices)
	defer func() {
		for _, h := range held {
			closeHandle(h)
		}
	}()
	for id := 0; id < devices; id++ {
		h, err := r.b.Open(id)
		if err != nil {
			return nil, fmt.Errorf("opening device %d: %w", id, err)
		}
		held = append(held, h)
	}

	logrus.Infof("stress: %d workers on %d devices for %v", cfg.Threads, devices, cfg.Duration)
	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	res := &StressResult{Workers: make([]WorkerResult, cfg.Threads)}
	start := r.now()
	for i := 0; i < cfg.Threads; i++ {
		i := i
		g.Go(func() error {
			wr, err := r.stressWorker(gctx, i, i%devices, cfg.OnTransfer)
			res.Workers[i] = wr
			return err
		})
	}
	err := g.Wait()
	res.Elapsed = r.now().Sub(start)

	for _, h := range held {
		snap, serr := h.Stats()
		if serr != nil {
			return res, serr
		}
		res.Devices = append(res.Devices, FromStats(snap))
	}
	res.Total = Combine(res.Elapsed, res.Devices...)
	for _, w := range res.Workers {
		logrus.Infof("stress: thread %d (device %d): %d transfers, avg latency %.2f µs",
			w.ThreadID, w.DeviceID, w.Transfers, micros(w.AvgLatency()))
	}
	logrus.Infof("stress: completed in %d ms", res.Elapsed.Milliseconds())

	if err != nil {
		return res, err
	}
	return res, ctx.Err()
}

func (r *Runner) stressWorker(ctx context.Context, threadID, deviceID int, onTransfer func(record.TransferRecord)) (WorkerResult, error) {
	wr := WorkerResult{ThreadID: threadID, DeviceID: deviceID}
	h, err := r.b.Open(deviceID)
	if err != nil {
		return wr, fmt.Errorf("worker %d: opening device %d: %w", threadID, deviceID, err)
	}
	defer closeHandle(h)

	pc := r.cfg.Pattern
	stream := fmt.Sprintf("worker_%d/%s", threadID, sim.SubsystemWorkload)
	sizes := workload.NewSizeSampler(pc, r.rng.ForSubsystem(stream))
	pacer := r.pacer(pc.StressGap())
	for ctx.Err() == nil {
		if err := pacer.Wait(ctx); err != nil {
			break
		}
		req := sim.TransferRequest{Size: sizes.Next(), Direction: r.cfg.Direction, Class: r.cfg.Class, Handle: wr.Transfers}
		rec, err := r.transfer(h, req, threadID)
		if err != nil {
			return wr, fmt.Errorf("worker %d: %w", threadID, err)
		}
		wr.Transfers++
		switch {
		case rec.Status == record.StatusException:
			wr.Exceptions++
		case rec.Failed():
			wr.Faults++
			wr.TotalLatency += rec.Latency
		default:
			wr.TotalLatency += rec.Latency
		}
		if onTransfer != nil {
			onTransfer(rec)
		}
	}
	return wr, nil
}
