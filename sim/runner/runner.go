// Package runner drives workloads through a backend: pattern passes over
// one or more devices, timed multi-worker stress runs and fixed-size
// benchmarks. Every transfer becomes a record.TransferRecord handed to the
// configured Sink.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/pcie-sim/pcie-sim/sim/backend"
	"github.com/pcie-sim/pcie-sim/sim/record"
	"github.com/pcie-sim/pcie-sim/sim/workload"
	"github.com/sirupsen/logrus"
)

// Sink receives every record a run produces. It must be safe for
// concurrent use; *record.Writer is.
type Sink interface {
	Write(r record.TransferRecord) error
}

// Config is shared by every run a Runner performs.
type Config struct {
	Pattern   workload.PatternConfig
	Direction sim.Direction
	// Class overrides the device throughput class when not ClassDefault.
	Class sim.ThroughputClass
	// Seed drives transfer size sampling.
	Seed int64
	// Sink receives records; nil discards them.
	Sink Sink
	// NoPacing skips the gaps between transfers.
	NoPacing bool
}

// Runner issues transfers through a backend.
type Runner struct {
	b   backend.Backend
	cfg Config
	rng *sim.PartitionedRNG
	now func() time.Time
}

// New returns a Runner over b.
func New(b backend.Backend, cfg Config) *Runner {
	return &Runner{
		b:   b,
		cfg: cfg,
		rng: sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed)),
		now: time.Now,
	}
}

// PatternResult is one device's pattern pass.
type PatternResult struct {
	DeviceID int
	Pattern  workload.Pattern
	Records  []record.TransferRecord
	// Metrics is the device snapshot after the pass.
	Metrics PerformanceMetrics
	Elapsed time.Duration
}

// Faults counts records that carry a fault scenario.
func (r *PatternResult) Faults() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Failed() && rec.Status != record.StatusException {
			n++
		}
	}
	return n
}

// RunPattern performs one pattern pass on device id: Pattern.Transfers()
// transfers of sampled sizes, spaced by Pattern.Gap().
func (r *Runner) RunPattern(ctx context.Context, id int) (*PatternResult, error) {
	h, err := r.b.Open(id)
	if err != nil {
		return nil, fmt.Errorf("opening device %d: %w", id, err)
	}
	defer closeHandle(h)

	pc := r.cfg.Pattern
	sizes := workload.NewSizeSampler(pc, r.rng.ForSubsystem(sim.SubsystemDevice(id, sim.SubsystemWorkload)))
	pacer := r.pacer(pc.Gap())
	res := &PatternResult{DeviceID: id, Pattern: pc.Pattern}
	start := r.now()

	logrus.Infof("device %d: pattern %s, %d transfers", id, pc, pc.Transfers())
	for i := 0; i < pc.Transfers(); i++ {
		if err := pacer.Wait(ctx); err != nil {
			return res, err
		}
		req := sim.TransferRequest{Size: sizes.Next(), Direction: r.cfg.Direction, Class: r.cfg.Class, Handle: uint64(i)}
		rec, err := r.transfer(h, req, 0)
		if err != nil {
			return res, err
		}
		res.Records = append(res.Records, rec)
		if rec.Failed() {
			logrus.Infof("device %d: transfer %d/%d %d bytes %.2f µs [%s]",
				id, i+1, pc.Transfers(), rec.Size, rec.LatencyMicros(), rec.Status)
		}
	}
	res.Elapsed = r.now().Sub(start)

	snap, err := h.Stats()
	if err != nil {
		return res, err
	}
	res.Metrics = FromStats(snap)
	logrus.Infof("device %d: completed %d transfers, avg latency %.2f µs, throughput %.2f Mbps",
		id, len(res.Records), micros(res.Metrics.AvgLatency), res.Metrics.ThroughputMbps)
	return res, nil
}

// RunDevices performs a pattern pass on devices 0..n-1 in order. A failing
// device is logged and skipped; the joined errors are returned with the
// results of the devices that ran.
func (r *Runner) RunDevices(ctx context.Context, n int) ([]*PatternResult, error) {
	if n < 1 || n > sim.MaxDevices {
		return nil, fmt.Errorf("device count %d out of range [1, %d]", n, sim.MaxDevices)
	}
	var results []*PatternResult
	var errs []error
	for id := 0; id < n; id++ {
		res, err := r.RunPattern(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			logrus.Errorf("device %d: %v", id, err)
			errs = append(errs, fmt.Errorf("device %d: %w", id, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// transfer runs one request and converts the result to a record. Faults
// become records carrying the scenario; invalid or rejected requests become
// EXCEPTION records. Only an unavailable backend or a sink failure stop the
// caller.
func (r *Runner) transfer(h backend.Handle, req sim.TransferRequest, threadID int) (record.TransferRecord, error) {
	out, err := h.Transfer(req)
	var rec record.TransferRecord
	switch kind := sim.KindOf(err); kind {
	case sim.KindNone, sim.KindSimulatedFault:
		rec = record.FromOutcome(out, threadID)
	case sim.KindInvalidParameter, sim.KindResourceExhausted:
		logrus.Debugf("device %d: %v", h.DeviceID(), err)
		rec = record.Exception(h.DeviceID(), req, threadID, r.now())
	case sim.KindBackendUnavailable:
		return record.Exception(h.DeviceID(), req, threadID, r.now()), err
	default:
		panic(fmt.Sprintf("unhandled error kind %v", kind))
	}
	if err := r.emit(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (r *Runner) emit(rec record.TransferRecord) error {
	if r.cfg.Sink == nil {
		return nil
	}
	if err := r.cfg.Sink.Write(rec); err != nil {
		return fmt.Errorf("recording transfer: %w", err)
	}
	return nil
}

func (r *Runner) pacer(gap time.Duration) *workload.Pacer {
	if r.cfg.NoPacing {
		return nil
	}
	return workload.NewPacer(gap)
}

func closeHandle(h backend.Handle) {
	if err := h.Close(); err != nil {
		logrus.Warnf("closing device %d: %v", h.DeviceID(), err)
	}
}
