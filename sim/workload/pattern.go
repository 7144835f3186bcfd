// Package workload describes what a run drives through the engine: the
// transfer pattern, the run spec loaded from YAML or flags, transfer size
// sampling and pacing.
package workload

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
)

// Pattern is a named transfer traffic shape.
type Pattern string

const (
	PatternSmallFast  Pattern = "small-fast"
	PatternLargeBurst Pattern = "large-burst"
	PatternMixed      Pattern = "mixed"
	PatternCustom     Pattern = "custom"
)

// validPatternNames maps pattern names to validity. Unexported to prevent mutation.
var validPatternNames = map[Pattern]bool{
	PatternSmallFast:  true,
	PatternLargeBurst: true,
	PatternMixed:      true,
	PatternCustom:     true,
}

// IsValidPattern returns true if name is a recognized pattern.
func IsValidPattern(name string) bool { return validPatternNames[Pattern(name)] }

// ValidPatternNames returns sorted valid pattern names.
func ValidPatternNames() []string {
	names := make([]string, 0, len(validPatternNames))
	for p := range validPatternNames {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// ParsePattern accepts a pattern name case-insensitively. Unknown names are
// an error rather than a silent fallback.
func ParsePattern(s string) (Pattern, error) {
	p := Pattern(strings.ToLower(strings.TrimSpace(s)))
	if !validPatternNames[p] {
		return "", fmt.Errorf("unknown pattern %q (valid: %s)", s, strings.Join(ValidPatternNames(), ", "))
	}
	return p, nil
}

// Rate limits for custom patterns.
const (
	MinRateHz = 1
	MaxRateHz = 10000
)

// PatternConfig is the resolved shape of a pattern. Sizes are inclusive.
type PatternConfig struct {
	Pattern       Pattern
	MinSize       int
	MaxSize       int
	RateHz        int
	BurstCount    int
	BurstInterval time.Duration
}

// Preset returns the stock configuration for a named pattern. PatternCustom
// has no preset; use Custom.
func Preset(p Pattern) (PatternConfig, error) {
	switch p {
	case PatternSmallFast:
		return PatternConfig{Pattern: p, MinSize: 64, MaxSize: 1024, RateHz: 10000, BurstCount: 1}, nil
	case PatternLargeBurst:
		return PatternConfig{Pattern: p, MinSize: 1 << 20, MaxSize: 4 << 20, RateHz: 100, BurstCount: 10, BurstInterval: 100 * time.Millisecond}, nil
	case PatternMixed:
		return PatternConfig{Pattern: p, MinSize: 1024, MaxSize: 64 << 10, RateHz: 1000, BurstCount: 5, BurstInterval: 50 * time.Millisecond}, nil
	case PatternCustom:
		return PatternConfig{}, fmt.Errorf("pattern %q needs an explicit size and rate", p)
	default:
		return PatternConfig{}, fmt.Errorf("unknown pattern %q", p)
	}
}

// Custom returns a fixed-size pattern at rateHz.
func Custom(size, rateHz int) (PatternConfig, error) {
	c := PatternConfig{Pattern: PatternCustom, MinSize: size, MaxSize: size, RateHz: rateHz, BurstCount: 1}
	if err := c.Validate(); err != nil {
		return PatternConfig{}, err
	}
	return c, nil
}

// Validate checks sizes against the engine limits and the rate range.
func (c PatternConfig) Validate() error {
	if c.MinSize < sim.MinTransferSize || c.MaxSize > sim.MaxTransferSize {
		return fmt.Errorf("pattern %s: size range [%d, %d] outside [%d, %d]",
			c.Pattern, c.MinSize, c.MaxSize, sim.MinTransferSize, sim.MaxTransferSize)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("pattern %s: min size %d > max size %d", c.Pattern, c.MinSize, c.MaxSize)
	}
	if c.RateHz < MinRateHz || c.RateHz > MaxRateHz {
		return fmt.Errorf("pattern %s: rate %d Hz outside [%d, %d]", c.Pattern, c.RateHz, MinRateHz, MaxRateHz)
	}
	if c.BurstCount < 1 {
		return fmt.Errorf("pattern %s: burst count must be >= 1, got %d", c.Pattern, c.BurstCount)
	}
	if c.BurstInterval < 0 {
		return fmt.Errorf("pattern %s: negative burst interval %v", c.Pattern, c.BurstInterval)
	}
	return nil
}

// Transfers is how many transfers one pattern pass issues per device:
// 100 for small-fast, one burst for large-burst, 50 otherwise.
func (c PatternConfig) Transfers() int {
	switch c.Pattern {
	case PatternSmallFast:
		return 100
	case PatternLargeBurst:
		return c.BurstCount
	default:
		return 50
	}
}

// Gap is the pause after each transfer of a pattern pass. Large bursts
// wait the burst interval; every other pattern waits one rate period.
func (c PatternConfig) Gap() time.Duration {
	if c.Pattern == PatternLargeBurst {
		return c.BurstInterval
	}
	return c.period()
}

// StressGap is the per-worker pause in a stress run: one period of the
// burst-divided rate, so bursty patterns run burst_count times slower per
// worker.
func (c PatternConfig) StressGap() time.Duration {
	if c.RateHz <= 0 {
		return 0
	}
	perBurst := c.RateHz / max(c.BurstCount, 1)
	if perBurst <= 0 {
		perBurst = 1
	}
	return time.Second / time.Duration(perBurst)
}

func (c PatternConfig) period() time.Duration {
	if c.RateHz <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.RateHz)
}

func (c PatternConfig) String() string {
	if c.MinSize == c.MaxSize {
		return fmt.Sprintf("%s size=%d rate=%dHz", c.Pattern, c.MinSize, c.RateHz)
	}
	return fmt.Sprintf("%s size=%d-%d rate=%dHz burst=%d/%v", c.Pattern, c.MinSize, c.MaxSize, c.RateHz, c.BurstCount, c.BurstInterval)
}
