package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DeviceConfig configures one simulated device. Zero values select defaults.
type DeviceConfig struct {
	// RingSize is the descriptor capacity of each ring (default DefaultRingSize).
	RingSize int
	// SkipDescriptors disables descriptor enqueue/dequeue around transfers.
	SkipDescriptors bool
	// Class is the throughput class for requests that do not pick one
	// (default ClassPerKiB).
	Class ThroughputClass
	// Latency overrides the registered default LatencyModel.
	Latency LatencyModel
	// Errors is the initial fault-injection configuration.
	Errors ErrorConfig
	// Sleeper performs the latency wait (default TimerSleeper).
	Sleeper Sleeper
	// Now is the clock used for descriptor timestamps (default time.Now).
	Now func() time.Time
	// RNG supplies the device's jitter and fault streams. A nil RNG is
	// seeded from the wall clock.
	RNG *PartitionedRNG
	// Jitter and Faults override the streams taken from RNG.
	Jitter RandomSource
	Faults RandomSource
}

// transferState is the per-call orchestration state.
type transferState int

const (
	stateIdle transferState = iota
	stateSubmitting
	stateTimingComputed
	stateFaultChecked
	stateCompleting
)

func (s transferState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateSubmitting:
		return "Submitting"
	case stateTimingComputed:
		return "TimingComputed"
	case stateFaultChecked:
		return "FaultChecked"
	case stateCompleting:
		return "Completing"
	default:
		return fmt.Sprintf("transferState(%d)", int(s))
	}
}

// Device is one simulated accelerator: a TX ring (host to device), an RX ring
// (device to host), a statistics block, a register file and the active fault
// configuration. Devices share nothing with each other.
//
// Thread-safety: safe for concurrent callers. The rings and the statistics
// are the only mutable shared state and each is guarded by its own lock.
type Device struct {
	id      int
	tx      *Ring
	rx      *Ring
	stats   Statistics
	regs    *Registers
	latency LatencyModel
	class   ThroughputClass
	enqueue bool
	sleeper Sleeper
	jitter  RandomSource
	faults  RandomSource

	errMu  sync.RWMutex
	errCfg ErrorConfig

	closed atomic.Bool
}

// NewDevice builds a device. Returns an error when no LatencyModel is
// configured and sim/latency has not been imported, or when cfg.Errors is invalid.
func NewDevice(id int, cfg DeviceConfig) (*Device, error) {
	if err := cfg.Errors.Validate(); err != nil {
		return nil, fmt.Errorf("device %d: %w", id, err)
	}
	lm := cfg.Latency
	if lm == nil {
		if NewLatencyModelFunc == nil {
			return nil, backendUnavailable("device %d: no latency model registered (import sim/latency)", id)
		}
		var err error
		if lm, err = NewLatencyModelFunc(); err != nil {
			return nil, fmt.Errorf("device %d: %w", id, err)
		}
	}
	ringSize := cfg.RingSize
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	class := cfg.Class
	if class == ClassDefault {
		class = ClassPerKiB
	}
	sleeper := cfg.Sleeper
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	rng := cfg.RNG
	if rng == nil {
		rng = NewPartitionedRNG(NewSimulationKey(time.Now().UnixNano()))
	}
	jitter := cfg.Jitter
	if jitter == nil {
		jitter = rng.ForSubsystem(SubsystemDevice(id, SubsystemTiming))
	}
	faults := cfg.Faults
	if faults == nil {
		faults = rng.ForSubsystem(SubsystemDevice(id, SubsystemFault))
	}

	d := &Device{
		id:      id,
		tx:      NewRingWithClock(ringSize, cfg.Now),
		rx:      NewRingWithClock(ringSize, cfg.Now),
		regs:    NewRegisters(),
		latency: lm,
		class:   class,
		enqueue: !cfg.SkipDescriptors,
		sleeper: sleeper,
		jitter:  jitter,
		faults:  faults,
		errCfg:  cfg.Errors,
	}
	d.regs.onErrorInject = d.injectFromRegister
	logrus.Debugf("device %d initialized: rings=%d class=%s errors=%s@%.4f",
		id, ringSize, class, cfg.Errors.Scenario, cfg.Errors.Probability)
	return d, nil
}

// ID returns the device id.
func (d *Device) ID() int { return d.id }

// Transfer runs one request through submit, timing, fault check, the
// simulated wait and completion.
//
// Validation and ring-overflow failures return immediately without touching
// the statistics. An injected fault completes the full latency path, is
// recorded as a transfer error and is returned as a KindSimulatedFault
// *TransferError together with a populated outcome.
func (d *Device) Transfer(req TransferRequest) (TransferOutcome, error) {
	if d.closed.Load() {
		return TransferOutcome{}, backendUnavailable("device %d is closed", d.id)
	}
	if err := req.Validate(); err != nil {
		return TransferOutcome{}, err
	}
	class := req.Class
	if class == ClassDefault {
		class = d.class
	}

	d.trace(stateIdle, stateSubmitting)
	slot := -1
	var ring *Ring
	if d.enqueue {
		ring = d.ringFor(req.Direction)
		s, err := ring.Submit(Descriptor{
			BufferAddr: req.Handle,
			Length:     uint32(req.Size),
			Flags:      uint32(req.Direction),
		})
		if err != nil {
			d.regs.overrun()
			return TransferOutcome{}, &TransferError{
				Kind: KindResourceExhausted,
				Err:  fmt.Errorf("device %d %s ring: %w", d.id, ringName(req.Direction), err),
			}
		}
		slot = s
	}
	d.regs.beginDMA(req.Handle, req.Size, req.Direction)
	latency := d.latency.TransferLatency(req.Size, req.Direction, class, d.jitter)

	d.trace(stateSubmitting, stateTimingComputed)
	effect, faulted := MaybeInject(d.ErrorConfig(), d.faults)
	if faulted {
		latency += effect.ExtraDelay
	}

	d.trace(stateTimingComputed, stateFaultChecked)
	d.sleeper.Sleep(latency)

	d.trace(stateFaultChecked, stateCompleting)
	if ring != nil {
		status := StatusComplete
		if faulted {
			status = StatusFailed
		}
		if _, err := ring.CompleteSlot(slot, status); err != nil {
			logrus.Errorf("device %d %s ring: completion without submission: %v", d.id, ringName(req.Direction), err)
		}
	}

	outcome := TransferOutcome{
		DeviceID:  d.id,
		Bytes:     req.Size,
		Direction: req.Direction,
		Latency:   latency,
		Success:   !faulted,
		ErrorKind: effect.Scenario,
		Slot:      slot,
		Completed: time.Now(),
	}
	d.stats.Record(outcome)
	d.regs.completeDMA(outcome.Success, latency, d.stats.Snapshot().TotalTransfers)
	d.trace(stateCompleting, stateIdle)

	if faulted {
		logrus.Debugf("device %d: injected %s fault, +%v", d.id, effect.Scenario, effect.ExtraDelay)
		return outcome, &TransferError{Kind: KindSimulatedFault, Scenario: effect.Scenario}
	}
	return outcome, nil
}

// Stats returns a consistent snapshot of the device statistics.
func (d *Device) Stats() StatsSnapshot {
	return d.stats.Snapshot()
}

// ResetStats zeroes the device statistics.
func (d *Device) ResetStats() {
	d.stats.Reset()
	logrus.Debugf("device %d statistics reset", d.id)
}

// ErrorConfig returns the active fault configuration.
func (d *Device) ErrorConfig() ErrorConfig {
	d.errMu.RLock()
	defer d.errMu.RUnlock()
	return d.errCfg
}

// SetErrorConfig replaces the active fault configuration.
func (d *Device) SetErrorConfig(cfg ErrorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.errMu.Lock()
	d.errCfg = cfg
	d.errMu.Unlock()
	logrus.Debugf("device %d error scenario set: %s p=%.4f recovery=%v", d.id, cfg.Scenario, cfg.Probability, cfg.RecoveryTime)
	return nil
}

// injectFromRegister applies a RegErrorInject write: rate n > 0 injects with
// probability 1/n under the current scenario (timeout if none), 0 disables.
func (d *Device) injectFromRegister(rate uint32) {
	cfg := d.ErrorConfig()
	if rate == 0 {
		cfg.Scenario = ScenarioNone
		cfg.Probability = 0
	} else {
		if cfg.Scenario == ScenarioNone {
			cfg.Scenario = ScenarioTimeout
		}
		if cfg.RecoveryTime == 0 {
			cfg.RecoveryTime = DefaultRecoveryTime
		}
		cfg.Probability = 1.0 / float64(rate)
	}
	if err := d.SetErrorConfig(cfg); err != nil {
		logrus.Warnf("device %d: ignoring error-inject register value %d: %v", d.id, rate, err)
	}
}

// Registers returns the device's BAR0 register file.
func (d *Device) Registers() *Registers {
	return d.regs
}

// RingCounters returns the TX and RX queue-health counters.
func (d *Device) RingCounters() (tx, rx RingCounters) {
	return d.tx.Counters(), d.rx.Counters()
}

// Close marks the device closed. Further transfers fail with KindBackendUnavailable.
func (d *Device) Close() {
	if d.closed.CompareAndSwap(false, true) {
		logrus.Debugf("device %d closed", d.id)
	}
}

// Closed reports whether Close has been called.
func (d *Device) Closed() bool {
	return d.closed.Load()
}

func (d *Device) ringFor(dir Direction) *Ring {
	if dir == FromDevice {
		return d.rx
	}
	return d.tx
}

func ringName(dir Direction) string {
	if dir == FromDevice {
		return "RX"
	}
	return "TX"
}

func (d *Device) trace(from, to transferState) {
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.Tracef("device %d: %s -> %s", d.id, from, to)
	}
}
