// Package latency provides the timing model for simulated transfers.
// The LatencyModel interface is defined in sim/ (parent package).
// This package provides LinearModel: a fixed base cost, a size term chosen
// by throughput class, a read penalty for device-to-host transfers, and
// bounded uniform jitter.
package latency

import (
	"fmt"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
)

// Params are the coefficients of the linear timing model.
type Params struct {
	// Base is the fixed per-transfer cost.
	Base time.Duration
	// PerKiB is charged per whole KiB under sim.ClassPerKiB.
	PerKiB time.Duration
	// PerMiB is charged per started MiB under sim.ClassPerMiB.
	PerMiB time.Duration
	// ReadPenaltyNum/ReadPenaltyDen scale base+size for sim.FromDevice.
	ReadPenaltyNum int64
	ReadPenaltyDen int64
	// MaxJitter bounds the uniform jitter addend: [0, MaxJitter).
	MaxJitter time.Duration
}

// DefaultParams returns 10µs base, 1µs/KiB, 10µs/MiB, +20% reads, 20µs jitter.
func DefaultParams() Params {
	return Params{
		Base:           10 * time.Microsecond,
		PerKiB:         time.Microsecond,
		PerMiB:         10 * time.Microsecond,
		ReadPenaltyNum: 12,
		ReadPenaltyDen: 10,
		MaxJitter:      20 * time.Microsecond,
	}
}

// Validate rejects negative durations and a non-positive penalty ratio.
func (p Params) Validate() error {
	if p.Base < 0 || p.PerKiB < 0 || p.PerMiB < 0 || p.MaxJitter < 0 {
		return fmt.Errorf("latency params: durations must be >= 0, got base=%v per-kib=%v per-mib=%v jitter=%v",
			p.Base, p.PerKiB, p.PerMiB, p.MaxJitter)
	}
	if p.ReadPenaltyNum <= 0 || p.ReadPenaltyDen <= 0 {
		return fmt.Errorf("latency params: read penalty %d/%d must be positive", p.ReadPenaltyNum, p.ReadPenaltyDen)
	}
	return nil
}

const mib = 1 << 20

// Baseline is the deterministic part of the model: base + size term, scaled
// by the read penalty for FromDevice. Jitter is not included.
func Baseline(p Params, size int, dir sim.Direction, class sim.ThroughputClass) time.Duration {
	var sizeTerm time.Duration
	switch class {
	case sim.ClassPerMiB:
		mibs := (size + mib - 1) / mib
		if mibs == 0 {
			mibs = 1
		}
		sizeTerm = time.Duration(mibs) * p.PerMiB
	default:
		sizeTerm = time.Duration(size/1024) * p.PerKiB
	}
	d := p.Base + sizeTerm
	if dir == sim.FromDevice {
		d = d * time.Duration(p.ReadPenaltyNum) / time.Duration(p.ReadPenaltyDen)
	}
	return d
}

// LinearModel is the default sim.LatencyModel.
type LinearModel struct {
	params Params
}

// NewLinearModel validates p and returns a model.
func NewLinearModel(p Params) (*LinearModel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &LinearModel{params: p}, nil
}

// Params returns the model coefficients.
func (m *LinearModel) Params() Params { return m.params }

// TransferLatency returns Baseline plus one jitter draw from rng.
func (m *LinearModel) TransferLatency(size int, dir sim.Direction, class sim.ThroughputClass, rng sim.RandomSource) time.Duration {
	d := Baseline(m.params, size, dir, class)
	if m.params.MaxJitter > 0 && rng != nil {
		d += time.Duration(rng.Int63n(int64(m.params.MaxJitter)))
	}
	return d
}

// NewLatencyModel returns a LinearModel with DefaultParams.
func NewLatencyModel() (sim.LatencyModel, error) {
	return NewLinearModel(DefaultParams())
}
