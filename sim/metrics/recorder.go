package metrics

import (
	"strconv"

	"github.com/pcie-sim/pcie-sim/sim/record"
	"github.com/prometheus/client_golang/prometheus"
)

// latencyBuckets span 10µs to ~1.3s, covering small transfers through
// overrun recovery.
var latencyBuckets = prometheus.ExponentialBuckets(10e-6, 2, 18)

// Recorder observes every record of a run. It satisfies runner.Sink and
// can be chained in front of another sink.
type Recorder struct {
	next     Sink
	latency  *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// Sink is the record consumer a Recorder forwards to.
type Sink interface {
	Write(r record.TransferRecord) error
}

// NewRecorder returns a Recorder forwarding to next, which may be nil.
func NewRecorder(next Sink) *Recorder {
	return &Recorder{
		next: next,
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_latency_seconds",
			Help:      "Simulated latency of transfers that reached a device",
			Buckets:   latencyBuckets,
		}, []string{"device", "direction"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_outcomes_total",
			Help:      "Transfers by error status",
		}, []string{"device", "status"}),
	}
}

// Write observes r and forwards it.
func (r *Recorder) Write(rec record.TransferRecord) error {
	dev := deviceLabel(rec.DeviceID)
	r.outcomes.WithLabelValues(dev, rec.Status).Inc()
	if rec.Status != record.StatusException {
		r.latency.WithLabelValues(dev, rec.Direction.String()).Observe(rec.Latency.Seconds())
	}
	if r.next == nil {
		return nil
	}
	return r.next.Write(rec)
}

func deviceLabel(id int) string {
	return strconv.Itoa(id)
}
