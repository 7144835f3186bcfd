package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/pcie-sim/pcie-sim/sim/record"
	"github.com/pcie-sim/pcie-sim/sim/runner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// progressTick is how often the stress progress bar advances.
const progressTick = 100 * time.Millisecond

// stressCmd runs concurrent workers against the devices for a fixed time
var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run concurrent workers against the devices for a fixed duration",
	Long: `Stress starts --threads workers, assigned round-robin to --devices devices,
each looping sample, transfer, record until --duration elapses. Each worker is
paced at the pattern rate divided by its burst count.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Flags())
		if err != nil {
			return err
		}
		r, err := s.runner()
		if err != nil {
			return errors.Join(err, s.close(""))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var transfers atomic.Int64
		duration := s.spec.Duration()
		done := showProgress(ctx, cmd.ErrOrStderr(), duration, &transfers)
		res, runErr := r.RunStress(ctx, runner.StressConfig{
			Devices:    s.spec.Devices,
			Threads:    s.spec.Threads,
			Duration:   duration,
			OnTransfer: func(record.TransferRecord) { transfers.Add(1) },
		})
		done()

		out := cmd.OutOrStdout()
		summary := ""
		if res != nil {
			for _, w := range res.Workers {
				fmt.Fprintf(out, "Thread %d (Device %d): %d transfers, %d faults, %d exceptions, avg latency: %.2f µs\n",
					w.ThreadID, w.DeviceID, w.Transfers, w.Faults, w.Exceptions, float64(w.AvgLatency())/float64(time.Microsecond))
			}
			fmt.Fprintf(out, "Stress test completed in %d ms\n\n", res.Elapsed.Milliseconds())
			res.Total.Print(out)
			fmt.Fprintln(out)
			summary = fmt.Sprintf("Stress run: %d workers, %d transfers, %d errors in %d ms",
				len(res.Workers), res.Total.Transfers, res.Total.Errors, res.Elapsed.Milliseconds())
		}
		s.printStatus(out)
		return errors.Join(runErr, s.close(summary))
	},
}

// showProgress draws a time-based bar on w until the returned func is called.
func showProgress(ctx context.Context, w io.Writer, total time.Duration, transfers *atomic.Int64) func() {
	steps := int64(total / progressTick)
	bar := progressbar.NewOptions64(steps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("stress"),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(progressTick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = bar.Finish()
				return
			case <-t.C:
				bar.Describe(fmt.Sprintf("stress: %d transfers", transfers.Load()))
				_ = bar.Add64(1)
			}
		}
	}()
	return func() {
		cancel()
		<-stopped
	}
}
