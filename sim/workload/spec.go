package workload

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Run spec limits (inclusive).
const (
	MaxThreads     = 64
	MaxDurationSec = 3600
)

// RunSpec is the top-level run configuration.
// Loaded from YAML via LoadRunSpec(path) or assembled from CLI flags.
type RunSpec struct {
	Seed     int64  `yaml:"seed"`
	Backend  string `yaml:"backend,omitempty"`
	Devices  int    `yaml:"devices"`
	RingSize int    `yaml:"ring_size,omitempty"`
	// Class is "per-kib" (default) or "per-mib".
	Class     string    `yaml:"class,omitempty"`
	Direction string    `yaml:"direction,omitempty"`
	Pattern   string    `yaml:"pattern"`
	Size      int       `yaml:"size,omitempty"`
	RateHz    int       `yaml:"rate_hz,omitempty"`
	Error     ErrorSpec `yaml:"error,omitempty"`
	Threads   int       `yaml:"threads,omitempty"`
	// DurationSec bounds a stress run.
	DurationSec int    `yaml:"duration_sec,omitempty"`
	CSV         string `yaml:"csv,omitempty"`
}

// ErrorSpec is the fault configuration of a run. Probability and
// ProbabilityBP are exclusive; when both are unset the scenario default
// applies.
type ErrorSpec struct {
	Scenario      string        `yaml:"scenario,omitempty"`
	Probability   *float64      `yaml:"probability,omitempty"`
	ProbabilityBP *uint32       `yaml:"probability_bp,omitempty"`
	Recovery      time.Duration `yaml:"recovery,omitempty"`
}

// DefaultRunSpec is one device running the mixed pattern with no faults.
func DefaultRunSpec() *RunSpec {
	return &RunSpec{
		Devices:     1,
		Pattern:     string(PatternMixed),
		Threads:     4,
		DurationSec: 10,
	}
}

// LoadRunSpec reads and parses a YAML run spec. Unknown keys are rejected.
func LoadRunSpec(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run spec: %w", err)
	}
	return ParseRunSpec(data)
}

// ParseRunSpec decodes YAML on top of DefaultRunSpec and validates the result.
func ParseRunSpec(data []byte) (*RunSpec, error) {
	spec := DefaultRunSpec()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(spec); err != nil {
		return nil, fmt.Errorf("parsing run spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks every field against its allowed range.
func (s *RunSpec) Validate() error {
	if s.Devices < 1 || s.Devices > sim.MaxDevices {
		return fmt.Errorf("devices must be in [1, %d], got %d", sim.MaxDevices, s.Devices)
	}
	if s.RingSize < 0 {
		return fmt.Errorf("ring_size must be >= 0, got %d", s.RingSize)
	}
	if _, err := sim.ParseThroughputClass(s.Class); err != nil {
		return err
	}
	if _, err := s.ParsedDirection(); err != nil {
		return err
	}
	if _, err := s.PatternConfig(); err != nil {
		return err
	}
	if _, err := s.ErrorConfig(); err != nil {
		return err
	}
	if s.Threads < 1 || s.Threads > MaxThreads {
		return fmt.Errorf("threads must be in [1, %d], got %d", MaxThreads, s.Threads)
	}
	if s.DurationSec < 1 || s.DurationSec > MaxDurationSec {
		return fmt.Errorf("duration_sec must be in [1, %d], got %d", MaxDurationSec, s.DurationSec)
	}
	return nil
}

// ParsedDirection returns the transfer direction, ToDevice when unset.
func (s *RunSpec) ParsedDirection() (sim.Direction, error) {
	if s.Direction == "" {
		return sim.ToDevice, nil
	}
	return sim.ParseDirection(s.Direction)
}

// ThroughputClass returns the parsed class, ClassPerKiB when unset.
func (s *RunSpec) ThroughputClass() sim.ThroughputClass {
	c, err := sim.ParseThroughputClass(s.Class)
	if err != nil || c == sim.ClassDefault {
		return sim.ClassPerKiB
	}
	return c
}

// PatternConfig resolves the pattern. A preset pattern ignores Size and
// RateHz, except that a positive RateHz overrides the preset rate.
func (s *RunSpec) PatternConfig() (PatternConfig, error) {
	p, err := ParsePattern(s.Pattern)
	if err != nil {
		return PatternConfig{}, err
	}
	if p == PatternCustom {
		return Custom(s.Size, s.RateHz)
	}
	cfg, err := Preset(p)
	if err != nil {
		return PatternConfig{}, err
	}
	if s.Size != 0 {
		logrus.Warnf("size %d ignored for pattern %s; use pattern custom for a fixed size", s.Size, p)
	}
	if s.RateHz > 0 {
		cfg.RateHz = s.RateHz
	}
	if err := cfg.Validate(); err != nil {
		return PatternConfig{}, err
	}
	return cfg, nil
}

// ErrorConfig resolves the fault configuration, filling scenario defaults.
func (s *RunSpec) ErrorConfig() (sim.ErrorConfig, error) {
	sc, err := sim.ParseScenario(s.Error.Scenario)
	if err != nil {
		return sim.ErrorConfig{}, err
	}
	cfg := sim.DefaultErrorConfig(sc)
	switch {
	case s.Error.Probability != nil && s.Error.ProbabilityBP != nil:
		return sim.ErrorConfig{}, fmt.Errorf("error: set probability or probability_bp, not both")
	case s.Error.Probability != nil:
		p := *s.Error.Probability
		if math.IsNaN(p) || p < 0 || p > 1 {
			return sim.ErrorConfig{}, fmt.Errorf("error probability must be in [0, 1], got %v", p)
		}
		cfg.Probability = p
	case s.Error.ProbabilityBP != nil:
		p, err := sim.ProbabilityFromBasisPoints(*s.Error.ProbabilityBP)
		if err != nil {
			return sim.ErrorConfig{}, err
		}
		cfg.Probability = p
	}
	if sc == sim.ScenarioNone {
		cfg.Probability = 0
	}
	if s.Error.Recovery != 0 {
		cfg.RecoveryTime = s.Error.Recovery
	}
	if err := cfg.Validate(); err != nil {
		return sim.ErrorConfig{}, err
	}
	return cfg, nil
}

// Duration returns DurationSec as a time.Duration.
func (s *RunSpec) Duration() time.Duration {
	return time.Duration(s.DurationSec) * time.Second
}

// String is the one-line configuration recorded in a session log header.
func (s *RunSpec) String() string {
	return fmt.Sprintf("backend=%s devices=%d pattern=%s size=%d rate_hz=%d error=%s threads=%d duration_sec=%d seed=%d",
		s.Backend, s.Devices, s.Pattern, s.Size, s.RateHz, orNone(s.Error.Scenario), s.Threads, s.DurationSec, s.Seed)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
