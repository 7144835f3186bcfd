package workload

import (
	"context"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
	"golang.org/x/time/rate"
)

// SizeSampler draws transfer sizes uniformly from [min, max].
type SizeSampler struct {
	min, max int
	rng      sim.RandomSource
}

// NewSizeSampler samples the pattern's size range from rng.
func NewSizeSampler(cfg PatternConfig, rng sim.RandomSource) *SizeSampler {
	return &SizeSampler{min: cfg.MinSize, max: cfg.MaxSize, rng: rng}
}

// Next returns the next size. A fixed-size pattern draws nothing.
func (s *SizeSampler) Next() int {
	if s.max <= s.min {
		return s.min
	}
	return s.min + int(s.rng.Int63n(int64(s.max-s.min+1)))
}

// Pacer spaces transfers at most one per gap. The first Wait never blocks.
// A nil Pacer or a zero gap never blocks.
type Pacer struct {
	lim *rate.Limiter
}

// NewPacer returns a pacer admitting one transfer per gap.
func NewPacer(gap time.Duration) *Pacer {
	if gap <= 0 {
		return &Pacer{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{lim: rate.NewLimiter(rate.Every(gap), 1)}
}

// Wait blocks until the next transfer may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	return p.lim.Wait(ctx)
}
