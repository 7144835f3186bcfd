package latency

import (
	"testing"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseline_KnownValues(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		name  string
		size  int
		dir   sim.Direction
		class sim.ThroughputClass
		want  time.Duration
	}{
		{"64B write per-kib", 64, sim.ToDevice, sim.ClassPerKiB, 10 * time.Microsecond},
		{"4KiB write per-kib", 4096, sim.ToDevice, sim.ClassPerKiB, 14 * time.Microsecond},
		{"4KiB read per-kib", 4096, sim.FromDevice, sim.ClassPerKiB, 16800 * time.Nanosecond},
		{"1MiB write per-kib", 1 << 20, sim.ToDevice, sim.ClassPerKiB, 1034 * time.Microsecond},
		{"64B write per-mib rounds up", 64, sim.ToDevice, sim.ClassPerMiB, 20 * time.Microsecond},
		{"1MiB+1 write per-mib", 1<<20 + 1, sim.ToDevice, sim.ClassPerMiB, 30 * time.Microsecond},
		{"4MiB read per-mib", 4 << 20, sim.FromDevice, sim.ClassPerMiB, 60 * time.Microsecond},
		{"default class behaves as per-kib", 2048, sim.ToDevice, sim.ClassDefault, 12 * time.Microsecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Baseline(p, tt.size, tt.dir, tt.class)
			if got != tt.want {
				t.Errorf("Baseline(%d, %s, %s) = %v, want %v", tt.size, tt.dir, tt.class, got, tt.want)
			}
		})
	}
}

func TestTransferLatency_JitterBounded(t *testing.T) {
	// BDD: every draw lies in [baseline, baseline+MaxJitter)
	m, err := NewLinearModel(DefaultParams())
	require.NoError(t, err)
	rng := sim.NewLockedRand(7)
	base := Baseline(m.Params(), 4096, sim.ToDevice, sim.ClassPerKiB)
	for i := 0; i < 10000; i++ {
		got := m.TransferLatency(4096, sim.ToDevice, sim.ClassPerKiB, rng)
		if got < base || got >= base+m.Params().MaxJitter {
			t.Fatalf("draw %d: latency %v outside [%v, %v)", i, got, base, base+m.Params().MaxJitter)
		}
	}
}

func TestTransferLatency_FixedSourceIsDeterministic(t *testing.T) {
	m, err := NewLinearModel(DefaultParams())
	require.NoError(t, err)
	src := sim.FixedSource{Frac: 0.5}
	a := m.TransferLatency(8192, sim.FromDevice, sim.ClassPerKiB, src)
	b := m.TransferLatency(8192, sim.FromDevice, sim.ClassPerKiB, src)
	assert.Equal(t, a, b)
	assert.Equal(t, Baseline(m.Params(), 8192, sim.FromDevice, sim.ClassPerKiB)+10*time.Microsecond, a)
}

func TestTransferLatency_DirectionAsymmetry(t *testing.T) {
	// BDD: mean(FromDevice) / mean(ToDevice) is ~1.2 for a fixed size
	m, err := NewLinearModel(DefaultParams())
	require.NoError(t, err)
	const n = 20000
	const size = 64 * 1024
	rng := sim.NewLockedRand(42)
	var toSum, fromSum time.Duration
	for i := 0; i < n; i++ {
		toSum += m.TransferLatency(size, sim.ToDevice, sim.ClassPerKiB, rng)
		fromSum += m.TransferLatency(size, sim.FromDevice, sim.ClassPerKiB, rng)
	}
	ratio := float64(fromSum) / float64(toSum)
	// jitter is not scaled, so the ratio sits a little under 1.2
	assert.InDelta(t, 1.2, ratio, 0.03, "from/to ratio = %.4f", ratio)
	assert.Greater(t, fromSum, toSum)
}

func TestNewLinearModel_RejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"negative base", func(p *Params) { p.Base = -1 }},
		{"negative jitter", func(p *Params) { p.MaxJitter = -time.Microsecond }},
		{"zero penalty denominator", func(p *Params) { p.ReadPenaltyDen = 0 }},
		{"zero penalty numerator", func(p *Params) { p.ReadPenaltyNum = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			_, err := NewLinearModel(p)
			assert.Error(t, err)
		})
	}
}

func TestNewLatencyModelFunc_RegisteredByInit(t *testing.T) {
	require.NotNil(t, sim.NewLatencyModelFunc)
	m, err := sim.NewLatencyModelFunc()
	require.NoError(t, err)
	_, ok := m.(*LinearModel)
	assert.True(t, ok, "registered model is %T", m)
}

func TestTransferLatency_ZeroJitterNeedsNoSource(t *testing.T) {
	p := DefaultParams()
	p.MaxJitter = 0
	m, err := NewLinearModel(p)
	require.NoError(t, err)
	assert.Equal(t, 14*time.Microsecond, m.TransferLatency(4096, sim.ToDevice, sim.ClassPerKiB, nil))
}
