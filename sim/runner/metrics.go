package runner

import (
	"fmt"
	"io"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
)

// PerformanceMetrics summarizes one device, or several combined.
type PerformanceMetrics struct {
	Transfers      uint64
	Bytes          uint64
	Errors         uint64
	ThroughputMbps float64
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	ErrorRate      float64
}

// FromStats converts a device snapshot. Throughput is the snapshot's
// latency-derived figure.
func FromStats(s sim.StatsSnapshot) PerformanceMetrics {
	return PerformanceMetrics{
		Transfers:      s.TotalTransfers,
		Bytes:          s.TotalBytes,
		Errors:         s.TotalErrors,
		ThroughputMbps: s.ThroughputMbps(),
		AvgLatency:     s.AvgLatency,
		MinLatency:     s.MinLatency,
		MaxLatency:     s.MaxLatency,
		ErrorRate:      s.ErrorRate(),
	}
}

// Combine folds per-device metrics into one. Average latency is weighted by
// transfers; min and max cover devices that completed at least one
// transfer. Throughput is over elapsed wall time when elapsed > 0, else the
// sum of the parts.
func Combine(elapsed time.Duration, parts ...PerformanceMetrics) PerformanceMetrics {
	var total PerformanceMetrics
	var weighted float64
	var sumMbps float64
	seen := false
	for _, p := range parts {
		total.Transfers += p.Transfers
		total.Bytes += p.Bytes
		total.Errors += p.Errors
		sumMbps += p.ThroughputMbps
		if p.Transfers == 0 {
			continue
		}
		weighted += float64(p.AvgLatency) * float64(p.Transfers)
		if !seen || p.MinLatency < total.MinLatency {
			total.MinLatency = p.MinLatency
		}
		if p.MaxLatency > total.MaxLatency {
			total.MaxLatency = p.MaxLatency
		}
		seen = true
	}
	if total.Transfers > 0 {
		total.AvgLatency = time.Duration(weighted / float64(total.Transfers))
	}
	if attempts := total.Transfers + total.Errors; attempts > 0 {
		total.ErrorRate = float64(total.Errors) / float64(attempts)
	}
	if elapsed > 0 {
		total.ThroughputMbps = wallMbps(total.Bytes, elapsed)
	} else {
		total.ThroughputMbps = sumMbps
	}
	return total
}

func wallMbps(bytes uint64, elapsed time.Duration) float64 {
	us := float64(elapsed) / float64(time.Microsecond)
	if us <= 0 {
		return 0
	}
	return float64(bytes) * 8.0 / us
}

// Print writes the metrics block.
func (m PerformanceMetrics) Print(w io.Writer) {
	fmt.Fprintf(w, "Transfers: %d\n", m.Transfers)
	fmt.Fprintf(w, "Bytes: %d (%.2f MB)\n", m.Bytes, float64(m.Bytes)/1024/1024)
	fmt.Fprintf(w, "Throughput: %.2f Mbps\n", m.ThroughputMbps)
	fmt.Fprintf(w, "Latency - Avg: %.2f µs, Min: %.2f µs, Max: %.2f µs\n",
		micros(m.AvgLatency), micros(m.MinLatency), micros(m.MaxLatency))
	fmt.Fprintf(w, "Error Rate: %.2f%%\n", m.ErrorRate*100)
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
