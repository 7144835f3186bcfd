package sim

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionedRNG_SameKeySameStream(t *testing.T) {
	// BDD: same key+subsystem yields the same sequence
	a := NewPartitionedRNG(NewSimulationKey(42)).ForSubsystem(SubsystemDevice(0, SubsystemTiming))
	b := NewPartitionedRNG(NewSimulationKey(42)).ForSubsystem(SubsystemDevice(0, SubsystemTiming))
	for i := 0; i < 5; i++ {
		if x, y := a.Float64(), b.Float64(); x != y {
			t.Errorf("draw %d: %v != %v", i, x, y)
		}
	}
}

func TestPartitionedRNG_DevicesAreIsolated(t *testing.T) {
	// BDD: draining device 0's fault stream leaves device 1's untouched
	p := NewPartitionedRNG(NewSimulationKey(42))
	for i := 0; i < 100; i++ {
		p.ForSubsystem(SubsystemDevice(0, SubsystemFault)).Float64()
	}
	got := p.ForSubsystem(SubsystemDevice(1, SubsystemFault)).Float64()

	want := NewPartitionedRNG(NewSimulationKey(42)).ForSubsystem(SubsystemDevice(1, SubsystemFault)).Float64()
	if got != want {
		t.Errorf("device 1 first draw = %v, want %v (isolation broken)", got, want)
	}
}

func TestPartitionedRNG_WorkloadUsesMasterSeed(t *testing.T) {
	const seed = 42
	w := NewPartitionedRNG(NewSimulationKey(seed)).ForSubsystem(SubsystemWorkload)
	direct := rand.New(rand.NewSource(seed))
	for i := 0; i < 10; i++ {
		if got, want := w.Float64(), direct.Float64(); got != want {
			t.Errorf("draw %d: workload = %v, direct = %v", i, got, want)
		}
	}
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	p := NewPartitionedRNG(NewSimulationKey(1))
	assert.Same(t, p.ForSubsystem(SubsystemTiming), p.ForSubsystem(SubsystemTiming))
	assert.Equal(t, SimulationKey(1), p.Key())
}

func TestPartitionedRNG_ExtremeSeeds(t *testing.T) {
	for _, seed := range []int64{0, -1, math.MaxInt64, math.MinInt64} {
		v := NewPartitionedRNG(NewSimulationKey(seed)).ForSubsystem(SubsystemFault).Float64()
		if v < 0 || v >= 1 {
			t.Errorf("seed %d: Float64() = %v, want [0, 1)", seed, v)
		}
	}
}

func TestSubsystemDevice(t *testing.T) {
	tests := []struct {
		id   int
		sub  string
		want string
	}{
		{0, SubsystemTiming, "device_0/timing"},
		{7, SubsystemFault, "device_7/fault"},
	}
	for _, tt := range tests {
		if got := SubsystemDevice(tt.id, tt.sub); got != tt.want {
			t.Errorf("SubsystemDevice(%d, %q) = %q, want %q", tt.id, tt.sub, got, tt.want)
		}
	}
}

func TestFnv1a64_NoCollisionsAcrossDeviceStreams(t *testing.T) {
	seen := make(map[int64]string)
	for id := 0; id < MaxDevices; id++ {
		for _, sub := range []string{SubsystemTiming, SubsystemFault} {
			name := SubsystemDevice(id, sub)
			h := fnv1a64(name)
			if prev, ok := seen[h]; ok {
				t.Errorf("hash collision: %q and %q", name, prev)
			}
			seen[h] = name
		}
	}
}

func TestLockedRand_ConcurrentUse(t *testing.T) {
	// BDD: concurrent draws neither panic nor leave [0, n)
	r := NewLockedRand(3)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if v := r.Int63n(20); v < 0 || v >= 20 {
					t.Errorf("Int63n(20) = %d", v)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestFixedSource(t *testing.T) {
	assert.Equal(t, int64(0), FixedSource{}.Int63n(100))
	assert.Equal(t, int64(50), FixedSource{Frac: 0.5}.Int63n(100))
	assert.Equal(t, int64(99), FixedSource{Frac: 1}.Int63n(100), "clamped to n-1")
	assert.Equal(t, 0.25, FixedSource{Frac: 0.25}.Float64())
}

func BenchmarkPartitionedRNG_ForSubsystem_CacheHit(b *testing.B) {
	p := NewPartitionedRNG(NewSimulationKey(42))
	name := SubsystemDevice(0, SubsystemTiming)
	p.ForSubsystem(name)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.ForSubsystem(name)
	}
}
