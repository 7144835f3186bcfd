package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pcie-sim/pcie-sim/sim/runner"
	"github.com/spf13/cobra"
)

// defaultBenchSize applies when --size is not given.
const defaultBenchSize = 4096

// benchCmd runs a fixed-size benchmark across devices
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark fixed-size transfers across devices",
	Long: `Bench issues --transfers transfers of --size bytes (default 4096) to every
device round-robin after --warmup unmeasured transfers, then reports wall-clock
throughput and per-device latency.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Flags())
		if err != nil {
			return err
		}
		r, err := s.runner()
		if err != nil {
			return errors.Join(err, s.close(""))
		}
		cfg := runner.BenchConfig{
			Devices:   s.spec.Devices,
			Size:      s.spec.Size,
			Transfers: s.v.GetInt("transfers"),
			Warmup:    s.v.GetInt("warmup"),
		}
		if cfg.Size == 0 {
			cfg.Size = defaultBenchSize
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		res, runErr := r.RunBenchmark(ctx, cfg)
		if runErr != nil {
			return errors.Join(runErr, s.close(""))
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Benchmark Results:\n")
		fmt.Fprintf(out, "Devices: %d\n", cfg.Devices)
		fmt.Fprintf(out, "Duration: %d µs\n", res.Elapsed.Microseconds())
		res.Total.Print(out)
		if cfg.Devices > 1 {
			fmt.Fprintf(out, "\nPer-Device Statistics:\n")
			fmt.Fprintf(out, "%8s%12s%15s%15s%15s\n", "Device", "Transfers", "Avg Latency", "Min Latency", "Max Latency")
			fmt.Fprintln(out, strings.Repeat("-", 65))
			for id, m := range res.Devices {
				fmt.Fprintf(out, "%8d%12d%12.2f µs%12.2f µs%12.2f µs\n", id, m.Transfers,
					micros(m.AvgLatency), micros(m.MinLatency), micros(m.MaxLatency))
			}
		}
		fmt.Fprintln(out)
		summary := fmt.Sprintf("Benchmark: %d transfers of %d bytes, %.2f Mbps", res.Total.Transfers, cfg.Size, res.Total.ThroughputMbps)
		return s.close(summary)
	},
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
