// Package backend exposes the transfer engine through interchangeable
// execution environments. Every backend drives the same sim.Device, so
// for a given seed they produce identical outcomes and statistics; they
// differ only in how a caller reaches the engine and how the latency wait
// is performed.
//
//   - "ioctl": a privileged control channel. Calls are encoded into command
//     frames, each served in its own goroutine, like a driver's ioctl path
//     running in the caller's context.
//   - "sim":   in-process, waits with the runtime timer.
//   - "spin":  in-process, sleeps whole milliseconds and spins the remainder.
package backend

import (
	"fmt"
	"sort"

	"github.com/pcie-sim/pcie-sim/sim"
	// Registers the default timing model for every device a backend opens.
	_ "github.com/pcie-sim/pcie-sim/sim/latency"
)

// Handle is an open device. Several handles may share one device.
// Close releases this handle only; the device is destroyed when the last
// handle for it closes.
type Handle interface {
	DeviceID() int
	Transfer(req sim.TransferRequest) (sim.TransferOutcome, error)
	Stats() (sim.StatsSnapshot, error)
	ResetStats() error
	SetErrorConfig(cfg sim.ErrorConfig) error
	Close() error
}

// Backend opens device handles.
type Backend interface {
	Name() string
	Open(id int) (Handle, error)
	// Device returns the engine device behind an open id, for status
	// reporting and metrics. It does not take a reference.
	Device(id int) (*sim.Device, bool)
	Close() error
}

// Options configure every device a backend opens.
type Options struct {
	// Seed is the master seed for jitter and fault streams.
	Seed int64
	// RingSize is the per-direction descriptor capacity (default sim.DefaultRingSize).
	RingSize int
	// Class is the device throughput class (default sim.ClassPerKiB).
	Class sim.ThroughputClass
	// Errors is the fault configuration applied at open.
	Errors sim.ErrorConfig
	// Sleeper overrides the backend's wait primitive. Tests pass
	// *sim.InstantSleeper to skip real waits.
	Sleeper sim.Sleeper
	// Latency overrides the registered default timing model.
	Latency sim.LatencyModel
}

const (
	NameIoctl = "ioctl"
	NameSim   = "sim"
	NameSpin  = "spin"
)

// validBackendNames maps backend names to validity. Unexported to prevent mutation.
var validBackendNames = map[string]bool{
	NameIoctl: true,
	NameSim:   true,
	NameSpin:  true,
}

// IsValidBackend returns true if name is a recognized backend.
func IsValidBackend(name string) bool { return validBackendNames[name] }

// ValidBackendNames returns sorted valid backend names.
func ValidBackendNames() []string {
	names := make([]string, 0, len(validBackendNames))
	for n := range validBackendNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the named backend. An unknown name returns an error wrapping
// sim.ErrBackendUnavailable.
func New(name string, opts Options) (Backend, error) {
	if !IsValidBackend(name) {
		return nil, unavailable("unknown backend %q (valid: %v)", name, ValidBackendNames())
	}
	switch name {
	case NameIoctl:
		return newIoctl(opts), nil
	case NameSim:
		return newLocal(NameSim, sim.TimerSleeper{}, opts), nil
	case NameSpin:
		return newLocal(NameSpin, sim.SpinSleeper{}, opts), nil
	default:
		panic(fmt.Sprintf("unhandled backend %q", name))
	}
}

// newTable builds the device arena shared by every backend kind.
func newTable(defaultSleeper sim.Sleeper, opts Options) *sim.DeviceTable {
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = defaultSleeper
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(opts.Seed))
	return sim.NewDeviceTable(func(id int) (*sim.Device, error) {
		return sim.NewDevice(id, sim.DeviceConfig{
			RingSize: opts.RingSize,
			Class:    opts.Class,
			Latency:  opts.Latency,
			Errors:   opts.Errors,
			Sleeper:  sleeper,
			RNG:      rng,
		})
	})
}

func unavailable(format string, args ...any) error {
	return &sim.TransferError{Kind: sim.KindBackendUnavailable, Err: fmt.Errorf(format, args...)}
}

func invalid(format string, args ...any) error {
	return &sim.TransferError{Kind: sim.KindInvalidParameter, Err: fmt.Errorf(format, args...)}
}
