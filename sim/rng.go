package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey, identical configuration and a
// sequential caller MUST produce identical statistics on every backend.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemWorkload is the RNG subsystem for transfer size sampling.
	// Uses the master seed directly.
	SubsystemWorkload = "workload"

	// SubsystemTiming is the RNG subsystem for latency jitter.
	SubsystemTiming = "timing"

	// SubsystemFault is the RNG subsystem for fault-injection trials.
	SubsystemFault = "fault"
)

// SubsystemDevice returns the subsystem name for one device's stream.
// Each device draws from its own streams so devices never perturb each other.
func SubsystemDevice(id int, subsystem string) string {
	return fmt.Sprintf("device_%d/%s", id, subsystem)
}

// === RandomSource ===

// RandomSource is the randomness consumed by the timing model and the
// fault injector.
type RandomSource interface {
	// Int63n returns a uniform value in [0, n). n must be > 0.
	Int63n(n int64) int64
	// Float64 returns a uniform value in [0.0, 1.0).
	Float64() float64
}

// LockedRand is a *rand.Rand guarded by a mutex, safe for the concurrent
// callers of a single device.
type LockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewLockedRand returns a LockedRand seeded with seed.
func NewLockedRand(seed int64) *LockedRand {
	return &LockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (r *LockedRand) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63n(n)
}

func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// Intn returns a uniform value in [0, n).
func (r *LockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}

// FixedSource is a RandomSource that always returns the same fraction.
// Int63n(n) returns Frac*n truncated. With Frac = 0 jitter is zero and any
// fault with probability > 0 triggers.
type FixedSource struct {
	Frac float64
}

func (s FixedSource) Int63n(n int64) int64 {
	v := int64(s.Frac * float64(n))
	if v >= n {
		return n - 1
	}
	return v
}

func (s FixedSource) Float64() float64 {
	return s.Frac
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG streams per subsystem.
//
// Derivation formula:
//   - For SubsystemWorkload: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: safe for concurrent use. The returned streams are locked.
type PartitionedRNG struct {
	key        SimulationKey
	mu         sync.Mutex
	subsystems map[string]*LockedRand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*LockedRand),
	}
}

// ForSubsystem returns a deterministically-seeded stream for the named subsystem.
// The same subsystem name always returns the same instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *LockedRand {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	var derivedSeed int64
	if name == SubsystemWorkload {
		derivedSeed = int64(p.key)
	} else {
		derivedSeed = int64(p.key) ^ fnv1a64(name)
	}

	rng := NewLockedRand(derivedSeed)
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
