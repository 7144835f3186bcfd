package sim

import (
	"testing"
	"time"
)

func TestLatencyModelFunc_ForwardsArguments(t *testing.T) {
	var gotSize int
	var gotDir Direction
	var gotClass ThroughputClass
	m := LatencyModelFunc(func(size int, dir Direction, class ThroughputClass, rng RandomSource) time.Duration {
		gotSize, gotDir, gotClass = size, dir, class
		return time.Duration(size) * time.Nanosecond
	})

	lat := m.TransferLatency(2048, FromDevice, ClassPerMiB, NewLockedRand(1))
	if lat != 2048*time.Nanosecond {
		t.Errorf("latency = %v, want 2.048µs", lat)
	}
	if gotSize != 2048 || gotDir != FromDevice || gotClass != ClassPerMiB {
		t.Errorf("forwarded (%d, %v, %v), want (2048, FromDevice, ClassPerMiB)", gotSize, gotDir, gotClass)
	}
}
