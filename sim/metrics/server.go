package metrics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/prometheus/client_golang/prometheus"
)

// DeviceStatus is the JSON view of one open device.
type DeviceStatus struct {
	ID             int     `json:"id"`
	TotalTransfers uint64  `json:"total_transfers"`
	TotalBytes     uint64  `json:"total_bytes"`
	TotalErrors    uint64  `json:"total_errors"`
	AvgLatencyNs   int64   `json:"avg_latency_ns"`
	MinLatencyNs   int64   `json:"min_latency_ns"`
	MaxLatencyNs   int64   `json:"max_latency_ns"`
	ThroughputMbps float64 `json:"throughput_mbps"`
	ErrorRate      float64 `json:"error_rate"`
	Scenario       string  `json:"scenario"`
	Probability    float64 `json:"probability"`
}

func statusOf(dev *sim.Device) DeviceStatus {
	s := dev.Stats()
	ec := dev.ErrorConfig()
	return DeviceStatus{
		ID:             dev.ID(),
		TotalTransfers: s.TotalTransfers,
		TotalBytes:     s.TotalBytes,
		TotalErrors:    s.TotalErrors,
		AvgLatencyNs:   s.AvgLatency.Nanoseconds(),
		MinLatencyNs:   s.MinLatency.Nanoseconds(),
		MaxLatencyNs:   s.MaxLatency.Nanoseconds(),
		ThroughputMbps: s.ThroughputMbps(),
		ErrorRate:      s.ErrorRate(),
		Scenario:       ec.Scenario.String(),
		Probability:    ec.Probability,
	}
}

// NewRouter serves /metrics from reg, a liveness probe at /healthz and
// device status as JSON at /devices and /devices/{id}.
func NewRouter(src DeviceSource, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", Handler(reg))
	r.Get("/devices", func(w http.ResponseWriter, _ *http.Request) {
		out := []DeviceStatus{}
		for id := 0; id < sim.MaxDevices; id++ {
			if dev, ok := src.Device(id); ok {
				out = append(out, statusOf(dev))
			}
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Get("/devices/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(req, "id"))
		if err != nil {
			http.Error(w, "device id must be an integer", http.StatusBadRequest)
			return
		}
		dev, ok := src.Device(id)
		if !ok {
			http.Error(w, "device not open", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, statusOf(dev))
	})
	return r
}

// NewServer wraps NewRouter in an http.Server listening on addr.
func NewServer(addr string, src DeviceSource, reg *prometheus.Registry) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(src, reg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
