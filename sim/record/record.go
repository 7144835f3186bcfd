// Package record defines the per-transfer record schema and its CSV session
// format. Records are pure data; the package depends on sim/ only for the
// outcome types it converts from.
package record

import (
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
)

// Columns is the CSV header row, in field order.
var Columns = []string{
	"timestamp",
	"session_time_ms",
	"device_id",
	"transfer_size",
	"latency_us",
	"throughput_mbps",
	"direction",
	"error_status",
	"thread_id",
}

// TimestampLayout formats the wall-clock timestamp column.
const TimestampLayout = "2006-01-02 15:04:05.000"

// Status labels besides the scenario names.
const (
	StatusSuccess   = "SUCCESS"
	StatusException = "EXCEPTION"
)

// TransferRecord is one row of a session log.
type TransferRecord struct {
	Timestamp      time.Time
	DeviceID       int
	Size           int
	Latency        time.Duration
	ThroughputMbps float64
	Direction      sim.Direction
	// Status is SUCCESS, a fault scenario name, or EXCEPTION for calls that
	// failed before reaching the device.
	Status   string
	ThreadID int
}

// LatencyMicros returns the latency in microseconds.
func (r TransferRecord) LatencyMicros() float64 {
	return float64(r.Latency) / float64(time.Microsecond)
}

// Failed reports whether the record is not a success.
func (r TransferRecord) Failed() bool {
	return r.Status != StatusSuccess
}

// FromOutcome converts an engine outcome. A zero Completed time falls back to now.
func FromOutcome(o sim.TransferOutcome, threadID int) TransferRecord {
	ts := o.Completed
	if ts.IsZero() {
		ts = time.Now()
	}
	return TransferRecord{
		Timestamp:      ts,
		DeviceID:       o.DeviceID,
		Size:           o.Bytes,
		Latency:        o.Latency,
		ThroughputMbps: o.ThroughputMbps(),
		Direction:      o.Direction,
		Status:         o.Status(),
		ThreadID:       threadID,
	}
}

// Exception builds the record for a call rejected before any latency was
// simulated, such as an invalid request or a full descriptor ring.
func Exception(deviceID int, req sim.TransferRequest, threadID int, at time.Time) TransferRecord {
	return TransferRecord{
		Timestamp: at,
		DeviceID:  deviceID,
		Size:      req.Size,
		Direction: req.Direction,
		Status:    StatusException,
		ThreadID:  threadID,
	}
}
