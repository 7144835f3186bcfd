package sim

import (
	"sync/atomic"
	"time"
)

// Sleeper performs the blocking wait for a transfer's simulated latency.
// It is the only point where a transfer suspends. Implementations must
// always return after a bounded time.
type Sleeper interface {
	Sleep(d time.Duration)
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(d time.Duration)

func (f SleeperFunc) Sleep(d time.Duration) { f(d) }

// minSleep is the shortest wait worth handing to the scheduler.
const minSleep = time.Microsecond

// TimerSleeper waits with the runtime timer. Waits under a microsecond are skipped.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(d time.Duration) {
	if d < minSleep {
		return
	}
	time.Sleep(d)
}

// SpinSleeper sleeps whole milliseconds on the timer and busy-waits the
// sub-millisecond remainder for precision.
type SpinSleeper struct{}

func (SpinSleeper) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if ms := d.Truncate(time.Millisecond); ms > 0 {
		time.Sleep(ms)
		d -= ms
	}
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// InstantSleeper returns immediately and accumulates the requested total.
// Used by tests and by dry runs that only want statistics.
type InstantSleeper struct {
	total atomic.Int64
	calls atomic.Int64
}

func (s *InstantSleeper) Sleep(d time.Duration) {
	s.total.Add(int64(d))
	s.calls.Add(1)
}

// Total returns the sum of every requested wait.
func (s *InstantSleeper) Total() time.Duration {
	return time.Duration(s.total.Load())
}

// Calls returns the number of Sleep calls.
func (s *InstantSleeper) Calls() int64 {
	return s.calls.Load()
}
