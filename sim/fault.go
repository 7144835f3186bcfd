package sim

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Scenario is a named category of simulated failure. Exactly one is active
// per device at a time.
type Scenario int

const (
	ScenarioNone Scenario = iota
	ScenarioTimeout
	ScenarioCorruption
	ScenarioOverrun
)

// NumScenarios is the number of Scenario values, ScenarioNone included.
const NumScenarios = 4

// DefaultRecoveryTime is the base recovery window a timeout pays in full.
const DefaultRecoveryTime = 100 * time.Millisecond

func (s Scenario) String() string {
	switch s {
	case ScenarioNone:
		return "none"
	case ScenarioTimeout:
		return "timeout"
	case ScenarioCorruption:
		return "corruption"
	case ScenarioOverrun:
		return "overrun"
	default:
		return fmt.Sprintf("Scenario(%d)", int(s))
	}
}

// Valid reports whether s is a known scenario.
func (s Scenario) Valid() bool {
	return s >= ScenarioNone && s < NumScenarios
}

// ParseScenario parses "none", "timeout", "corruption" or "overrun".
func ParseScenario(s string) (Scenario, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ScenarioNone, nil
	case "timeout":
		return ScenarioTimeout, nil
	case "corruption":
		return ScenarioCorruption, nil
	case "overrun":
		return ScenarioOverrun, nil
	}
	return ScenarioNone, fmt.Errorf("unknown error scenario %q (valid: none, timeout, corruption, overrun)", s)
}

// ErrorConfig selects the active fault scenario. Probability is evaluated
// independently for every transfer. RecoveryTime is the base window: a
// timeout adds all of it, corruption half, overrun double.
type ErrorConfig struct {
	Scenario     Scenario
	Probability  float64
	RecoveryTime time.Duration
}

// DefaultErrorConfig returns the stock probability for a scenario:
// timeout 1%, corruption 0.5%, overrun 2%, none 0.
func DefaultErrorConfig(s Scenario) ErrorConfig {
	cfg := ErrorConfig{Scenario: s, RecoveryTime: DefaultRecoveryTime}
	switch s {
	case ScenarioTimeout:
		cfg.Probability = 0.01
	case ScenarioCorruption:
		cfg.Probability = 0.005
	case ScenarioOverrun:
		cfg.Probability = 0.02
	}
	return cfg
}

// ProbabilityFromBasisPoints converts the control-channel form (0.01% units,
// 0-10000) to a probability.
func ProbabilityFromBasisPoints(bp uint32) (float64, error) {
	if bp > 10000 {
		return 0, invalidParameter("error probability %d exceeds 10000 basis points", bp)
	}
	return float64(bp) / 10000.0, nil
}

// BasisPoints is the inverse of ProbabilityFromBasisPoints, rounded.
func (c ErrorConfig) BasisPoints() uint32 {
	return uint32(math.Round(c.Probability * 10000))
}

// Validate checks scenario, probability range and recovery time.
func (c ErrorConfig) Validate() error {
	if !c.Scenario.Valid() {
		return invalidParameter("unknown error scenario %d", int(c.Scenario))
	}
	if math.IsNaN(c.Probability) || c.Probability < 0 || c.Probability > 1 {
		return invalidParameter("error probability %v out of range [0, 1]", c.Probability)
	}
	if c.RecoveryTime < 0 {
		return invalidParameter("negative recovery time %v", c.RecoveryTime)
	}
	return nil
}

// ExtraDelay is the latency a triggered fault adds on top of the baseline.
func (c ErrorConfig) ExtraDelay() time.Duration {
	window := c.RecoveryTime
	switch c.Scenario {
	case ScenarioTimeout:
		return window
	case ScenarioCorruption:
		return window / 2
	case ScenarioOverrun:
		return window * 2
	default:
		return 0
	}
}

// FaultEffect is the perturbation a triggered fault applies to one outcome.
// It only ever touches latency and the error kind, never buffer contents.
type FaultEffect struct {
	ExtraDelay time.Duration
	Scenario   Scenario
}

// MaybeInject runs one Bernoulli trial for cfg. ScenarioNone and a zero
// probability never trigger and draw nothing from rng.
func MaybeInject(cfg ErrorConfig, rng RandomSource) (FaultEffect, bool) {
	if cfg.Scenario == ScenarioNone || cfg.Probability <= 0 {
		return FaultEffect{}, false
	}
	if rng.Float64() >= cfg.Probability {
		return FaultEffect{}, false
	}
	return FaultEffect{ExtraDelay: cfg.ExtraDelay(), Scenario: cfg.Scenario}, true
}
