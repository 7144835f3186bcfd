package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
)

// command is a control-channel request code.
type command uint32

const (
	cmdTransfer   command = 1
	cmdGetStats   command = 2
	cmdResetStats command = 3
	cmdSetError   command = 4
)

func (c command) String() string {
	switch c {
	case cmdTransfer:
		return "TRANSFER"
	case cmdGetStats:
		return "GET_STATS"
	case cmdResetStats:
		return "RESET_STATS"
	case cmdSetError:
		return "SET_ERROR"
	default:
		return fmt.Sprintf("command(%d)", uint32(c))
	}
}

// Frames are little-endian fixed-layout structs, a request header followed
// by the command's argument block, and a reply header followed by the
// error message and the command's result block.
var order = binary.LittleEndian

type requestHeader struct {
	Cmd uint32
	FD  uint32
}

type transferArgs struct {
	Size      uint32
	Direction uint32
	Class     uint32
	Handle    uint64
}

type errorArgs struct {
	Scenario    uint32
	Probability float64
	RecoveryNs  int64
}

type replyHeader struct {
	Kind     int32
	Scenario uint32
	MsgLen   uint16
}

type outcomeWire struct {
	DeviceID    uint32
	Bytes       uint32
	Direction   uint32
	LatencyNs   int64
	Success     bool
	Scenario    uint32
	Slot        int32
	CompletedNs int64
}

type statsWire struct {
	TotalTransfers uint64
	TotalBytes     uint64
	TotalErrors    uint64
	ScenarioErrors [sim.NumScenarios]uint64
	MinNs          int64
	MaxNs          int64
	AvgNs          int64
	LatencySet     bool
}

func encodeRequest(cmd command, fd uint32, args any) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, order, requestHeader{Cmd: uint32(cmd), FD: fd})
	if args != nil {
		_ = binary.Write(&buf, order, args)
	}
	return buf.Bytes()
}

func decodeRequestHeader(r *bytes.Reader) (requestHeader, error) {
	var h requestHeader
	if err := binary.Read(r, order, &h); err != nil {
		return h, fmt.Errorf("short request frame: %w", err)
	}
	return h, nil
}

// encodeReply packs err (nil for success) and an optional result block.
func encodeReply(err error, result any) []byte {
	var h replyHeader
	var msg string
	if err != nil {
		var te *sim.TransferError
		if errors.As(err, &te) {
			h.Kind = int32(te.Kind)
			h.Scenario = uint32(te.Scenario)
			if te.Err != nil {
				msg = te.Err.Error()
			}
		} else {
			h.Kind = int32(sim.KindBackendUnavailable)
			msg = err.Error()
		}
		if len(msg) > 0xFFFF {
			msg = msg[:0xFFFF]
		}
		h.MsgLen = uint16(len(msg))
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, order, h)
	buf.WriteString(msg)
	if result != nil {
		_ = binary.Write(&buf, order, result)
	}
	return buf.Bytes()
}

// decodeReply unpacks the reply header and returns the reconstructed error
// and a reader positioned at the result block.
func decodeReply(frame []byte) (*bytes.Reader, error) {
	r := bytes.NewReader(frame)
	var h replyHeader
	if err := binary.Read(r, order, &h); err != nil {
		return nil, unavailable("short reply frame: %v", err)
	}
	msg := make([]byte, h.MsgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, unavailable("truncated reply message: %v", err)
	}
	kind := sim.ErrorKind(h.Kind)
	if kind == sim.KindNone {
		return r, nil
	}
	te := &sim.TransferError{Kind: kind, Scenario: sim.Scenario(h.Scenario)}
	if len(msg) > 0 {
		re := &remoteError{msg: string(msg)}
		if kind == sim.KindResourceExhausted {
			re.cause = sim.ErrOverflow
		}
		te.Err = re
	}
	return r, te
}

// remoteError carries the serving side's message. It unwraps to the
// queue-level sentinel when the kind implies one.
type remoteError struct {
	msg   string
	cause error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.cause }

func toOutcomeWire(o sim.TransferOutcome) outcomeWire {
	w := outcomeWire{
		DeviceID:  uint32(o.DeviceID),
		Bytes:     uint32(o.Bytes),
		Direction: uint32(o.Direction),
		LatencyNs: int64(o.Latency),
		Success:   o.Success,
		Scenario:  uint32(o.ErrorKind),
		Slot:      int32(o.Slot),
	}
	if !o.Completed.IsZero() {
		w.CompletedNs = o.Completed.UnixNano()
	}
	return w
}

func (w outcomeWire) outcome() sim.TransferOutcome {
	o := sim.TransferOutcome{
		DeviceID:  int(w.DeviceID),
		Bytes:     int(w.Bytes),
		Direction: sim.Direction(w.Direction),
		Latency:   time.Duration(w.LatencyNs),
		Success:   w.Success,
		ErrorKind: sim.Scenario(w.Scenario),
		Slot:      int(w.Slot),
	}
	if w.CompletedNs != 0 {
		o.Completed = time.Unix(0, w.CompletedNs)
	}
	return o
}

func toStatsWire(s sim.StatsSnapshot) statsWire {
	return statsWire{
		TotalTransfers: s.TotalTransfers,
		TotalBytes:     s.TotalBytes,
		TotalErrors:    s.TotalErrors,
		ScenarioErrors: s.ScenarioErrors,
		MinNs:          int64(s.MinLatency),
		MaxNs:          int64(s.MaxLatency),
		AvgNs:          int64(s.AvgLatency),
		LatencySet:     s.LatencySet,
	}
}

func (w statsWire) snapshot() sim.StatsSnapshot {
	return sim.StatsSnapshot{
		TotalTransfers: w.TotalTransfers,
		TotalBytes:     w.TotalBytes,
		TotalErrors:    w.TotalErrors,
		ScenarioErrors: w.ScenarioErrors,
		MinLatency:     time.Duration(w.MinNs),
		MaxLatency:     time.Duration(w.MaxNs),
		AvgLatency:     time.Duration(w.AvgNs),
		LatencySet:     w.LatencySet,
	}
}
