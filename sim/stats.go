// Tracks per-device transfer statistics: counts, bytes, errors per scenario
// and min/max/running-average latency.

package sim

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// StatsSnapshot is a consistent point-in-time copy of a device's statistics.
// MinLatency/MaxLatency/AvgLatency are meaningful only when LatencySet is true.
type StatsSnapshot struct {
	TotalTransfers uint64
	TotalBytes     uint64
	TotalErrors    uint64
	ScenarioErrors [NumScenarios]uint64

	MinLatency time.Duration
	MaxLatency time.Duration
	AvgLatency time.Duration
	LatencySet bool
}

// Errors returns the error count for one scenario.
func (s StatsSnapshot) Errors(sc Scenario) uint64 {
	if !sc.Valid() {
		return 0
	}
	return s.ScenarioErrors[sc]
}

// ThroughputMbps is (bytes*8) / (avg_latency_seconds * transfers) / 1e6.
// Returns 0 before the first successful transfer.
func (s StatsSnapshot) ThroughputMbps() float64 {
	if !s.LatencySet || s.AvgLatency <= 0 || s.TotalTransfers == 0 {
		return 0
	}
	return float64(s.TotalBytes*8) / (s.AvgLatency.Seconds() * float64(s.TotalTransfers)) / 1e6
}

// ErrorRate is errors over all attempts that reached completion.
func (s StatsSnapshot) ErrorRate() float64 {
	attempts := s.TotalTransfers + s.TotalErrors
	if attempts == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(attempts)
}

// Print writes a human-readable status report.
func (s StatsSnapshot) Print(w io.Writer, deviceID int) {
	fmt.Fprintf(w, "=== Device %d Statistics ===\n", deviceID)
	fmt.Fprintf(w, "Total Transfers      : %d\n", s.TotalTransfers)
	fmt.Fprintf(w, "Total Bytes          : %d (%d KB, %d MB)\n", s.TotalBytes, s.TotalBytes/1024, s.TotalBytes/(1024*1024))
	fmt.Fprintf(w, "Total Errors         : %d\n", s.TotalErrors)
	for sc := ScenarioTimeout; sc < NumScenarios; sc++ {
		if n := s.ScenarioErrors[sc]; n > 0 {
			fmt.Fprintf(w, "  %-18s : %d\n", sc, n)
		}
	}
	if s.TotalTransfers > 0 {
		fmt.Fprintf(w, "Average Size         : %d bytes\n", s.TotalBytes/s.TotalTransfers)
	}
	fmt.Fprintf(w, "Error Rate           : %.2f%%\n", s.ErrorRate()*100)
	if !s.LatencySet {
		fmt.Fprintln(w, "Latency              : not measured")
		return
	}
	fmt.Fprintf(w, "Average Latency      : %d ns (%.2f µs)\n", s.AvgLatency.Nanoseconds(), us(s.AvgLatency))
	fmt.Fprintf(w, "Minimum Latency      : %d ns (%.2f µs)\n", s.MinLatency.Nanoseconds(), us(s.MinLatency))
	fmt.Fprintf(w, "Maximum Latency      : %d ns (%.2f µs)\n", s.MaxLatency.Nanoseconds(), us(s.MaxLatency))
	if j := s.MaxLatency - s.MinLatency; j > 0 {
		fmt.Fprintf(w, "Jitter (max-min)     : %d ns (%.2f µs)\n", j.Nanoseconds(), us(j))
	}
	fmt.Fprintf(w, "Average Throughput   : %.2f Mbps (%.2f MB/s)\n", s.ThroughputMbps(), s.ThroughputMbps()/8)
}

func us(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

// Statistics aggregates transfer outcomes for one device.
//
// The running average is avg = latency for the first sample and
// avg = (avg + latency) / 2 (integer nanoseconds) afterwards. It weights
// recent samples and is not a true mean; logged datasets depend on it.
//
// Thread-safety: safe for concurrent use. Every Record is atomic and
// Snapshot never observes a partial update.
type Statistics struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// Record folds one outcome into the statistics. Failures bump the total and
// scenario error counters and leave latency untouched.
func (st *Statistics) Record(o TransferOutcome) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !o.Success {
		st.s.TotalErrors++
		if o.ErrorKind.Valid() {
			st.s.ScenarioErrors[o.ErrorKind]++
		}
		return
	}

	st.s.TotalTransfers++
	st.s.TotalBytes += uint64(o.Bytes)

	lat := o.Latency
	if !st.s.LatencySet {
		st.s.MinLatency = lat
		st.s.MaxLatency = lat
		st.s.AvgLatency = lat
		st.s.LatencySet = true
		return
	}
	if lat < st.s.MinLatency {
		st.s.MinLatency = lat
	}
	if lat > st.s.MaxLatency {
		st.s.MaxLatency = lat
	}
	st.s.AvgLatency = (st.s.AvgLatency + lat) / 2
}

// Snapshot returns a copy of the current statistics.
func (st *Statistics) Snapshot() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Reset zeroes every counter and unsets the latency markers.
func (st *Statistics) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = StatsSnapshot{}
}
