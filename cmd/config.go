package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pcie-sim/pcie-sim/sim/backend"
	"github.com/pcie-sim/pcie-sim/sim/record"
	"github.com/pcie-sim/pcie-sim/sim/workload"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// buildRunSpec assembles the run spec. Without --config every field comes
// from its flag (or PCIESIM_* variable, or flag default). With --config the
// YAML file is the base and only explicitly set flags or variables override it.
func buildRunSpec(flags *pflag.FlagSet) (*workload.RunSpec, *viper.Viper, error) {
	v := newViper(flags)
	spec := workload.DefaultRunSpec()
	fromFile := false
	if path := v.GetString("config"); path != "" {
		loaded, err := workload.LoadRunSpec(path)
		if err != nil {
			return nil, nil, err
		}
		spec = loaded
		fromFile = true
	}
	use := func(key string) bool {
		if flags.Lookup(key) == nil {
			return false
		}
		return !fromFile || v.IsSet(key)
	}

	if use("seed") {
		spec.Seed = v.GetInt64("seed")
	}
	if use("backend") || spec.Backend == "" {
		spec.Backend = v.GetString("backend")
	}
	if use("devices") {
		spec.Devices = v.GetInt("devices")
	}
	if use("ring-size") {
		spec.RingSize = v.GetInt("ring-size")
	}
	if use("class") {
		spec.Class = v.GetString("class")
	}
	if use("direction") {
		spec.Direction = v.GetString("direction")
	}
	if use("pattern") {
		spec.Pattern = v.GetString("pattern")
	}
	if use("size") {
		spec.Size = v.GetInt("size")
	}
	if use("rate") {
		spec.RateHz = v.GetInt("rate")
	}
	if use("error") {
		spec.Error.Scenario = v.GetString("error")
	}
	// Probabilities have no neutral default, so they apply only when set.
	if v.IsSet("error-prob") {
		p := v.GetFloat64("error-prob")
		spec.Error.Probability = &p
		spec.Error.ProbabilityBP = nil
	}
	if v.IsSet("error-prob-bp") {
		bp := v.GetUint32("error-prob-bp")
		spec.Error.ProbabilityBP = &bp
		spec.Error.Probability = nil
	}
	if use("recovery") && v.GetString("recovery") != "" {
		d, err := time.ParseDuration(v.GetString("recovery"))
		if err != nil {
			return nil, nil, fmt.Errorf("--recovery: %w", err)
		}
		spec.Error.Recovery = d
	}
	if use("threads") {
		spec.Threads = v.GetInt("threads")
	}
	if use("duration") {
		spec.DurationSec = v.GetInt("duration")
	}
	if use("csv") {
		spec.CSV = v.GetString("csv")
	}

	if !backend.IsValidBackend(spec.Backend) {
		return nil, nil, fmt.Errorf("unknown backend %q (valid: %v)", spec.Backend, backend.ValidBackendNames())
	}
	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}
	return spec, v, nil
}

// backendOptions maps a validated spec onto backend options.
func backendOptions(spec *workload.RunSpec) (backend.Options, error) {
	errs, err := spec.ErrorConfig()
	if err != nil {
		return backend.Options{}, err
	}
	return backend.Options{
		Seed:     spec.Seed,
		RingSize: spec.RingSize,
		Class:    spec.ThroughputClass(),
		Errors:   errs,
	}, nil
}

// csvTarget resolves the session log path. A directory gets a timestamped
// pcie_test_*.csv file inside it.
func csvTarget(path string, now time.Time) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, record.TimestampedName("pcie_test", ".csv", now))
	}
	return path
}
