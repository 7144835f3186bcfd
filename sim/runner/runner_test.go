package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/pcie-sim/pcie-sim/sim/backend"
	"github.com/pcie-sim/pcie-sim/sim/record"
	"github.com/pcie-sim/pcie-sim/sim/workload"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func newTestBackend(t *testing.T, name string, errs sim.ErrorConfig) backend.Backend {
	t.Helper()
	b, err := backend.New(name, backend.Options{Seed: 1, Sleeper: &sim.InstantSleeper{}, Errors: errs})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func preset(t *testing.T, p workload.Pattern) workload.PatternConfig {
	t.Helper()
	c, err := workload.Preset(p)
	require.NoError(t, err)
	return c
}

// sliceSink keeps every record.
type sliceSink struct {
	mu   sync.Mutex
	recs []record.TransferRecord
}

func (s *sliceSink) Write(r record.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, r)
	return nil
}

func (s *sliceSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// countSink counts records without keeping them.
type countSink struct{ n atomic.Int64 }

func (s *countSink) Write(record.TransferRecord) error {
	s.n.Add(1)
	return nil
}

type failSink struct{}

func (failSink) Write(record.TransferRecord) error { return errors.New("disk full") }

func TestRunPattern_TransferCounts(t *testing.T) {
	custom, err := workload.Custom(2048, 500)
	require.NoError(t, err)
	tests := []struct {
		name string
		pc   workload.PatternConfig
		want int
	}{
		{"small-fast", preset(t, workload.PatternSmallFast), 100},
		{"large-burst", preset(t, workload.PatternLargeBurst), 10},
		{"mixed", preset(t, workload.PatternMixed), 50},
		{"custom", custom, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &sliceSink{}
			r := New(newTestBackend(t, backend.NameSim, sim.ErrorConfig{}), Config{Pattern: tt.pc, Seed: 42, Sink: sink, NoPacing: true})
			res, err := r.RunPattern(context.Background(), 0)
			require.NoError(t, err)

			assert.Len(t, res.Records, tt.want)
			assert.Equal(t, tt.want, sink.len())
			assert.Equal(t, uint64(tt.want), res.Metrics.Transfers)
			assert.Equal(t, 0, res.Faults())
			var total uint64
			for _, rec := range res.Records {
				assert.GreaterOrEqual(t, rec.Size, tt.pc.MinSize)
				assert.LessOrEqual(t, rec.Size, tt.pc.MaxSize)
				assert.Equal(t, record.StatusSuccess, rec.Status)
				assert.Equal(t, sim.ToDevice, rec.Direction)
				total += uint64(rec.Size)
			}
			assert.Equal(t, total, res.Metrics.Bytes)
		})
	}
}

func TestRunPattern_SameSeedSameSizes(t *testing.T) {
	pc := preset(t, workload.PatternMixed)
	sizes := func() []int {
		r := New(newTestBackend(t, backend.NameSim, sim.ErrorConfig{}), Config{Pattern: pc, Seed: 99, NoPacing: true})
		res, err := r.RunPattern(context.Background(), 2)
		require.NoError(t, err)
		var out []int
		for _, rec := range res.Records {
			out = append(out, rec.Size)
		}
		return out
	}
	assert.Equal(t, sizes(), sizes())
}

func TestRunPattern_FaultsBecomeScenarioRecords(t *testing.T) {
	errs := sim.ErrorConfig{Scenario: sim.ScenarioOverrun, Probability: 1, RecoveryTime: time.Millisecond}
	for _, name := range backend.ValidBackendNames() {
		t.Run(name, func(t *testing.T) {
			r := New(newTestBackend(t, name, errs), Config{Pattern: preset(t, workload.PatternMixed), NoPacing: true})
			res, err := r.RunPattern(context.Background(), 0)
			require.NoError(t, err)
			assert.Equal(t, 50, res.Faults())
			for _, rec := range res.Records {
				assert.Equal(t, "overrun", rec.Status)
				assert.GreaterOrEqual(t, rec.Latency, 2*time.Millisecond, "overrun pays double the recovery window")
			}
			assert.Equal(t, uint64(0), res.Metrics.Transfers)
			assert.Equal(t, uint64(50), res.Metrics.Errors)
			assert.Equal(t, 1.0, res.Metrics.ErrorRate)
		})
	}
}

func TestRunPattern_RejectedRequestsBecomeExceptions(t *testing.T) {
	r := New(newTestBackend(t, backend.NameSim, sim.ErrorConfig{}), Config{
		Pattern:  preset(t, workload.PatternLargeBurst),
		Class:    sim.ThroughputClass(9),
		NoPacing: true,
	})
	res, err := r.RunPattern(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, res.Records, 10)
	for _, rec := range res.Records {
		assert.Equal(t, record.StatusException, rec.Status)
		assert.Equal(t, time.Duration(0), rec.Latency)
	}
	assert.Equal(t, 0, res.Faults())
	assert.Equal(t, PerformanceMetrics{}, res.Metrics, "rejected requests leave statistics untouched")
}

func TestRunPattern_SinkFailureStops(t *testing.T) {
	r := New(newTestBackend(t, backend.NameSim, sim.ErrorConfig{}), Config{Pattern: preset(t, workload.PatternMixed), Sink: failSink{}, NoPacing: true})
	_, err := r.RunPattern(context.Background(), 0)
	assert.ErrorContains(t, err, "disk full")
}

func TestRunPattern_Paced(t *testing.T) {
	pc, err := workload.Custom(64, 1000)
	require.NoError(t, err)
	r := New(newTestBackend(t, backend.NameSim, sim.ErrorConfig{}), Config{Pattern: pc})
	res, err := r.RunPattern(context.Background(), 0)
	require.NoError(t, err)
	// 50 transfers at 1 ms spacing span at least 49 gaps
	assert.GreaterOrEqual(t, res.Elapsed, 45*time.Millisecond)
}

func TestRunPattern_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(newTestBackend(t, backend.NameSim, sim.ErrorConfig{}), Config{Pattern: preset(t, workload.PatternMixed)})
	res, err := r.RunPattern(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Records)
}

func TestRunDevices(t *testing.T) {
	b := newTestBackend(t, backend.NameIoctl, sim.ErrorConfig{})
	sink := &sliceSink{}
	r := New(b, Config{Pattern: preset(t, workload.PatternLargeBurst), Sink: sink, NoPacing: true})
	results, err := r.RunDevices(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, i, res.DeviceID)
		assert.Equal(t, uint64(10), res.Metrics.Transfers)
	}
	assert.Equal(t, 30, sink.len())

	_, err = r.RunDevices(context.Background(), 9)
	assert.Error(t, err)
}

func TestRunDevices_ClosedBackendReportsEveryDevice(t *testing.T) {
	b := newTestBackend(t, backend.NameSim, sim.ErrorConfig{})
	require.NoError(t, b.Close())
	r := New(b, Config{Pattern: preset(t, workload.PatternMixed), NoPacing: true})
	results, err := r.RunDevices(context.Background(), 2)
	assert.Empty(t, results)
	assert.ErrorIs(t, err, sim.ErrBackendUnavailable)
	assert.ErrorContains(t, err, "device 1")
}

func TestRunner_CSVSession(t *testing.T) {
	var buf bytes.Buffer
	w, err := record.NewWriter(&buf, "runner test")
	require.NoError(t, err)
	r := New(newTestBackend(t, backend.NameSpin, sim.ErrorConfig{}), Config{Pattern: preset(t, workload.PatternLargeBurst), Sink: w, NoPacing: true})
	_, err = r.RunDevices(context.Background(), 2)
	require.NoError(t, err)
	require.NoError(t, w.Close(""))

	recs, err := record.Read(&buf)
	require.NoError(t, err)
	require.Len(t, recs, 20)
	s := record.Summarize(recs)
	assert.Equal(t, map[int]int{0: 10, 1: 10}, s.DeviceCounts)
	assert.Equal(t, 20, s.Successes)
}
