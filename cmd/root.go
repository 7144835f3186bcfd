package cmd

import (
	"os"
	"strings"

	"github.com/pcie-sim/pcie-sim/sim/backend"
	"github.com/pcie-sim/pcie-sim/sim/workload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides: --error-prob is PCIESIM_ERROR_PROB.
const envPrefix = "PCIESIM"

var (
	// CLI flags shared by every command
	logLevel    string // Log verbosity level
	configPath  string // Optional YAML run spec
	csvPath     string // CSV session log path, or a directory for a timestamped file
	metricsAddr string // Listen address for the Prometheus endpoint
	noPacing    bool   // Skip inter-transfer gaps

	// Run spec flags; a YAML spec supplies these when --config is given and
	// the flag is neither set nor overridden from the environment.
	seed        int64   // Master seed for jitter, faults and sizes
	backendName string  // Execution backend
	devices     int     // Number of devices
	ringSize    int     // Descriptor ring capacity
	class       string  // Throughput class
	direction   string  // Transfer direction
	pattern     string  // Transfer pattern
	size        int     // Fixed size for the custom pattern
	rateHz      int     // Transfers per second
	scenario    string  // Error scenario
	errorProb   float64 // Error probability (0-1)
	errorProbBP uint32  // Error probability in 0.01% units
	recovery    string  // Base recovery window, e.g. 100ms

	// Stress flags
	threads     int // Concurrent workers
	durationSec int // Stress duration in seconds

	// Bench flags
	benchTransfers int // Measured transfers per device
	benchWarmup    int // Warmup transfers per device
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "pcie-sim",
	Short: "PCIe accelerator transfer simulator",
	Long: `pcie-sim drives simulated PCIe accelerator devices through DMA transfer
workloads and reports latency, throughput and injected-fault statistics.

Every flag may also be set from the environment as PCIESIM_<FLAG>, with
dashes replaced by underscores, when it is not given on the command line.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := newViper(cmd.Flags())
		level, err := logrus.ParseLevel(v.GetString("log"))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newViper binds flags to PCIESIM_* environment variables. A flag given on
// the command line wins over the environment, which wins over the flag default.
func newViper(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		logrus.Fatalf("binding flags: %v", err)
	}
	return v
}

// init sets up CLI flags and subcommands
func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&configPath, "config", "", "YAML run spec; flags and PCIESIM_* variables override its fields")
	pf.StringVar(&csvPath, "csv", "", "Write a CSV session log to this file, or a timestamped file in this directory")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	pf.BoolVar(&noPacing, "no-pacing", false, "Issue transfers back to back, ignoring the pattern rate")

	pf.Int64Var(&seed, "seed", 42, "Seed for latency jitter, fault injection and transfer sizes")
	pf.StringVar(&backendName, "backend", backend.NameSim, "Execution backend: "+strings.Join(backend.ValidBackendNames(), ", "))
	pf.IntVar(&devices, "devices", 1, "Number of devices (1-8)")
	pf.IntVar(&ringSize, "ring-size", 0, "Descriptor ring capacity per direction (0 selects 256)")
	pf.StringVar(&class, "class", "per-kib", "Throughput class: per-kib, per-mib")
	pf.StringVar(&direction, "direction", "to-device", "Transfer direction: to-device, from-device")
	pf.StringVar(&pattern, "pattern", string(workload.PatternMixed), "Transfer pattern: "+strings.Join(workload.ValidPatternNames(), ", "))
	pf.IntVar(&size, "size", 0, "Transfer size in bytes for the custom pattern (64-4194304)")
	pf.IntVar(&rateHz, "rate", 0, "Transfer rate in Hz (1-10000); required for custom, overrides presets")
	pf.StringVar(&scenario, "error", "none", "Error scenario: none, timeout, corruption, overrun")
	pf.Float64Var(&errorProb, "error-prob", 0, "Error probability 0-1 (default: the scenario's stock probability)")
	pf.Uint32Var(&errorProbBP, "error-prob-bp", 0, "Error probability in 0.01% units, 0-10000")
	pf.StringVar(&recovery, "recovery", "", "Base recovery window (default 100ms)")

	stressCmd.Flags().IntVar(&threads, "threads", 4, "Concurrent workers (1-64), assigned round-robin to devices")
	stressCmd.Flags().IntVar(&durationSec, "duration", 10, "Stress duration in seconds (1-3600)")

	benchCmd.Flags().IntVar(&benchTransfers, "transfers", 1000, "Measured transfers per device")
	benchCmd.Flags().IntVar(&benchWarmup, "warmup", 100, "Warmup transfers per device, excluded from the results")

	rootCmd.AddCommand(runCmd, stressCmd, benchCmd)
}
