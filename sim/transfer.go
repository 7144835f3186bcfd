package sim

import (
	"fmt"
	"strings"
	"time"
)

// Transfer size limits (inclusive).
const (
	MinTransferSize = 64
	MaxTransferSize = 4 << 20
)

// Direction is the data-flow direction of a transfer. The numeric values
// match the control-channel wire encoding.
type Direction uint32

const (
	// ToDevice is a host-to-device write.
	ToDevice Direction = 0
	// FromDevice is a device-to-host read.
	FromDevice Direction = 1
)

// String returns the record label (TO_DEVICE / FROM_DEVICE).
func (d Direction) String() string {
	switch d {
	case ToDevice:
		return "TO_DEVICE"
	case FromDevice:
		return "FROM_DEVICE"
	default:
		return fmt.Sprintf("Direction(%d)", uint32(d))
	}
}

// Valid reports whether d is ToDevice or FromDevice.
func (d Direction) Valid() bool {
	return d == ToDevice || d == FromDevice
}

// ParseDirection accepts "to-device", "from-device", "write", "read" and the
// record labels, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "to-device", "to_device", "write", "tx":
		return ToDevice, nil
	case "from-device", "from_device", "read", "rx":
		return FromDevice, nil
	}
	return 0, fmt.Errorf("unknown direction %q (valid: to-device, from-device)", s)
}

// ThroughputClass selects the size-proportional term of the timing model.
type ThroughputClass int

const (
	// ClassDefault defers to the device's configured class.
	ClassDefault ThroughputClass = iota
	// ClassPerKiB charges ~1µs per KiB.
	ClassPerKiB
	// ClassPerMiB charges ~10µs per started MiB.
	ClassPerMiB
)

func (c ThroughputClass) String() string {
	switch c {
	case ClassDefault:
		return "default"
	case ClassPerKiB:
		return "per-kib"
	case ClassPerMiB:
		return "per-mib"
	default:
		return fmt.Sprintf("ThroughputClass(%d)", int(c))
	}
}

// ParseThroughputClass parses "per-kib", "per-mib" or "default".
func ParseThroughputClass(s string) (ThroughputClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ClassDefault, nil
	case "per-kib", "kib":
		return ClassPerKiB, nil
	case "per-mib", "mib":
		return ClassPerMiB, nil
	}
	return 0, fmt.Errorf("unknown throughput class %q (valid: per-kib, per-mib)", s)
}

// TransferRequest is one caller-supplied transfer. It is never retained
// beyond the call that carries it.
type TransferRequest struct {
	Size      int
	Direction Direction
	// Class overrides the device's throughput class when not ClassDefault.
	Class ThroughputClass
	// Handle is an opaque buffer handle recorded in the descriptor.
	Handle uint64
}

// Validate checks size and direction.
func (r TransferRequest) Validate() error {
	if r.Size < MinTransferSize || r.Size > MaxTransferSize {
		return invalidParameter("transfer size %d out of range [%d, %d]", r.Size, MinTransferSize, MaxTransferSize)
	}
	if !r.Direction.Valid() {
		return invalidParameter("invalid transfer direction %d", uint32(r.Direction))
	}
	switch r.Class {
	case ClassDefault, ClassPerKiB, ClassPerMiB:
	default:
		return invalidParameter("invalid throughput class %d", int(r.Class))
	}
	return nil
}

// TransferOutcome is produced once per accepted request and folded into the
// device statistics. Latency is the simulated latency including any injected
// fault delay.
type TransferOutcome struct {
	DeviceID  int
	Bytes     int
	Direction Direction
	Latency   time.Duration
	Success   bool
	// ErrorKind is the fault scenario for a failed transfer, ScenarioNone otherwise.
	ErrorKind Scenario
	// Slot is the ring slot the descriptor occupied, -1 when none was enqueued.
	Slot      int
	Completed time.Time
}

// Status returns the record error-status label: SUCCESS or the scenario name.
func (o TransferOutcome) Status() string {
	if o.Success {
		return "SUCCESS"
	}
	return o.ErrorKind.String()
}

// ThroughputMbps is bits moved over the outcome's latency, in Mbps.
func (o TransferOutcome) ThroughputMbps() float64 {
	us := float64(o.Latency) / float64(time.Microsecond)
	if us <= 0 {
		return 0
	}
	return float64(o.Bytes) * 8.0 / us
}
