// Package metrics exports device statistics to Prometheus.
//
// Device metrics are read from snapshots at scrape time:
//   - pciesim_transfers_total, pciesim_bytes_total: successful transfers
//   - pciesim_errors_total{scenario}: injected faults by scenario
//   - pciesim_latency_seconds{stat}: min/max/running-average latency
//   - pciesim_throughput_mbps: snapshot throughput
//   - pciesim_ring_*_total{ring}: descriptor ring health counters
//
// Per-transfer latency is observed into pciesim_transfer_latency_seconds by
// a Recorder attached to a run as a record sink.
package metrics

import (
	"net/http"

	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pciesim"

// DeviceSource resolves open devices. backend.Backend satisfies it.
type DeviceSource interface {
	Device(id int) (*sim.Device, bool)
}

// Collector reads every open device at scrape time. Closed slots are skipped.
type Collector struct {
	src DeviceSource

	transfers   *prometheus.Desc
	bytes       *prometheus.Desc
	errors      *prometheus.Desc
	latency     *prometheus.Desc
	throughput  *prometheus.Desc
	submissions *prometheus.Desc
	completions *prometheus.Desc
	overruns    *prometheus.Desc
	underruns   *prometheus.Desc
}

// NewCollector returns a collector over src.
func NewCollector(src DeviceSource) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help,
			append([]string{"device"}, labels...), nil)
	}
	return &Collector{
		src:         src,
		transfers:   desc("transfers_total", "Successful transfers"),
		bytes:       desc("bytes_total", "Bytes moved by successful transfers"),
		errors:      desc("errors_total", "Injected transfer faults", "scenario"),
		latency:     desc("latency_seconds", "Transfer latency statistics", "stat"),
		throughput:  desc("throughput_mbps", "Snapshot throughput in Mbps"),
		submissions: desc("ring_submissions_total", "Descriptors submitted", "ring"),
		completions: desc("ring_completions_total", "Descriptors completed", "ring"),
		overruns:    desc("ring_overruns_total", "Submissions rejected by a full ring", "ring"),
		underruns:   desc("ring_underruns_total", "Completions attempted on an empty ring", "ring"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.transfers, c.bytes, c.errors, c.latency, c.throughput,
		c.submissions, c.completions, c.overruns, c.underruns,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for id := 0; id < sim.MaxDevices; id++ {
		dev, ok := c.src.Device(id)
		if !ok {
			continue
		}
		c.collectDevice(ch, dev)
	}
}

func (c *Collector) collectDevice(ch chan<- prometheus.Metric, dev *sim.Device) {
	label := deviceLabel(dev.ID())
	s := dev.Stats()
	ch <- prometheus.MustNewConstMetric(c.transfers, prometheus.CounterValue, float64(s.TotalTransfers), label)
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.TotalBytes), label)
	for sc := sim.ScenarioTimeout; sc < sim.NumScenarios; sc++ {
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors(sc)), label, sc.String())
	}
	if s.LatencySet {
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.MinLatency.Seconds(), label, "min")
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.MaxLatency.Seconds(), label, "max")
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.AvgLatency.Seconds(), label, "avg")
	}
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, s.ThroughputMbps(), label)

	tx, rx := dev.RingCounters()
	for _, r := range []struct {
		name string
		rc   sim.RingCounters
	}{{"tx", tx}, {"rx", rx}} {
		ch <- prometheus.MustNewConstMetric(c.submissions, prometheus.CounterValue, float64(r.rc.Submissions), label, r.name)
		ch <- prometheus.MustNewConstMetric(c.completions, prometheus.CounterValue, float64(r.rc.Completions), label, r.name)
		ch <- prometheus.MustNewConstMetric(c.overruns, prometheus.CounterValue, float64(r.rc.Overruns), label, r.name)
		ch <- prometheus.MustNewConstMetric(c.underruns, prometheus.CounterValue, float64(r.rc.Underruns), label, r.name)
	}
}

// NewRegistry returns a registry holding a Collector over src and rec, if
// non-nil.
func NewRegistry(src DeviceSource, rec *Recorder) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(src))
	if rec != nil {
		reg.MustRegister(rec.latency, rec.outcomes)
	}
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
