package record

import (
	"fmt"
	"time"
)

// Summary aggregates a set of TransferRecords. Latency fields cover
// successful records only and are zero when there are none.
type Summary struct {
	Records    int
	Successes  int
	Failures   int
	TotalBytes uint64

	MeanLatency time.Duration
	MinLatency  time.Duration
	MaxLatency  time.Duration

	StatusCounts map[string]int // error_status label → count
	DeviceCounts map[int]int    // device id → count
}

// Summarize computes aggregate statistics. Safe for nil or empty input.
func Summarize(records []TransferRecord) *Summary {
	s := &Summary{
		StatusCounts: make(map[string]int),
		DeviceCounts: make(map[int]int),
	}
	var latSum time.Duration
	for _, r := range records {
		s.Records++
		s.StatusCounts[r.Status]++
		s.DeviceCounts[r.DeviceID]++
		if r.Failed() {
			s.Failures++
			continue
		}
		s.Successes++
		s.TotalBytes += uint64(r.Size)
		latSum += r.Latency
		if s.Successes == 1 || r.Latency < s.MinLatency {
			s.MinLatency = r.Latency
		}
		if r.Latency > s.MaxLatency {
			s.MaxLatency = r.Latency
		}
	}
	if s.Successes > 0 {
		s.MeanLatency = latSum / time.Duration(s.Successes)
	}
	return s
}

// ErrorRate is failures over records.
func (s *Summary) ErrorRate() float64 {
	if s.Records == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Records)
}

// String is the one-line form used for the session summary comment.
func (s *Summary) String() string {
	return fmt.Sprintf("records=%d ok=%d failed=%d bytes=%d mean_latency_us=%.3f error_rate=%.4f",
		s.Records, s.Successes, s.Failures, s.TotalBytes,
		float64(s.MeanLatency)/float64(time.Microsecond), s.ErrorRate())
}
