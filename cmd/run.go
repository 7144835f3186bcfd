package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pcie-sim/pcie-sim/sim/record"
	"github.com/spf13/cobra"
)

// runCmd runs one pattern pass on every device in turn
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the transfer pattern on every device",
	Long: `Run issues one pass of the selected pattern on each device in turn:
100 transfers for small-fast, one burst for large-burst and 50 for mixed and
custom. Transfer sizes are drawn from the pattern's range and spaced at the
pattern rate. Device statistics are printed at the end.`,
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
		results, runErr := r.RunDevices(ctx, s.spec.Devices)

		out := cmd.OutOrStdout()
		var all []record.TransferRecord
		for _, res := range results {
			fmt.Fprintf(out, "Device %d - Pattern: %s\n", res.DeviceID, res.Pattern)
			fmt.Fprintf(out, "  Completed %d transfers, %d faults in %d ms\n", len(res.Records), res.Faults(), res.Elapsed.Milliseconds())
			res.Metrics.Print(out)
			fmt.Fprintln(out)
			all = append(all, res.Records...)
		}
		s.printStatus(out)
		return errors.Join(runErr, s.close(record.Summarize(all).String()))
	},
}
