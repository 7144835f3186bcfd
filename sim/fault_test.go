package sim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeInject_RateWithinThreeSigma(t *testing.T) {
	// BDD: 100k trials at p=0.01 land within ±3σ of 1000
	const trials = 100000
	const p = 0.01
	cfg := ErrorConfig{Scenario: ScenarioTimeout, Probability: p, RecoveryTime: DefaultRecoveryTime}
	rng := NewLockedRand(2024)

	hits := 0
	for i := 0; i < trials; i++ {
		if _, ok := MaybeInject(cfg, rng); ok {
			hits++
		}
	}
	mean := trials * p
	sigma := math.Sqrt(trials * p * (1 - p))
	if math.Abs(float64(hits)-mean) > 3*sigma {
		t.Errorf("hits = %d, want %.0f ± %.1f", hits, mean, 3*sigma)
	}
}

func TestMaybeInject_NoneNeverTriggersAndDrawsNothing(t *testing.T) {
	tests := []struct {
		name string
		cfg  ErrorConfig
	}{
		{"scenario none", ErrorConfig{Scenario: ScenarioNone, Probability: 1}},
		{"zero probability", ErrorConfig{Scenario: ScenarioOverrun, Probability: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewLockedRand(9)
			b := NewLockedRand(9)
			for i := 0; i < 100; i++ {
				_, ok := MaybeInject(tt.cfg, a)
				assert.False(t, ok)
			}
			assert.Equal(t, b.Float64(), a.Float64(), "source must not be consumed")
		})
	}
}

func TestMaybeInject_ExtraDelayPerScenario(t *testing.T) {
	tests := []struct {
		scenario Scenario
		want     time.Duration
	}{
		{ScenarioTimeout, 100 * time.Millisecond},
		{ScenarioCorruption, 50 * time.Millisecond},
		{ScenarioOverrun, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.scenario.String(), func(t *testing.T) {
			cfg := ErrorConfig{Scenario: tt.scenario, Probability: 1, RecoveryTime: 100 * time.Millisecond}
			eff, ok := MaybeInject(cfg, FixedSource{Frac: 0})
			require.True(t, ok)
			assert.Equal(t, tt.want, eff.ExtraDelay)
			assert.Equal(t, tt.scenario, eff.Scenario)
		})
	}
}

func TestDefaultErrorConfig(t *testing.T) {
	assert.Equal(t, 0.01, DefaultErrorConfig(ScenarioTimeout).Probability)
	assert.Equal(t, 0.005, DefaultErrorConfig(ScenarioCorruption).Probability)
	assert.Equal(t, 0.02, DefaultErrorConfig(ScenarioOverrun).Probability)
	assert.Equal(t, 0.0, DefaultErrorConfig(ScenarioNone).Probability)
	for s := ScenarioNone; s < NumScenarios; s++ {
		assert.NoError(t, DefaultErrorConfig(s).Validate(), s.String())
	}
}

func TestErrorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ErrorConfig
		wantErr bool
	}{
		{"valid", ErrorConfig{Scenario: ScenarioTimeout, Probability: 0.5}, false},
		{"probability one", ErrorConfig{Scenario: ScenarioTimeout, Probability: 1}, false},
		{"negative probability", ErrorConfig{Scenario: ScenarioTimeout, Probability: -0.1}, true},
		{"probability above one", ErrorConfig{Scenario: ScenarioTimeout, Probability: 1.1}, true},
		{"NaN probability", ErrorConfig{Scenario: ScenarioTimeout, Probability: math.NaN()}, true},
		{"unknown scenario", ErrorConfig{Scenario: Scenario(9)}, true},
		{"negative recovery", ErrorConfig{Scenario: ScenarioTimeout, RecoveryTime: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParameter)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProbabilityFromBasisPoints(t *testing.T) {
	p, err := ProbabilityFromBasisPoints(100)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, p, 1e-12)
	assert.Equal(t, uint32(100), ErrorConfig{Probability: p}.BasisPoints())

	_, err = ProbabilityFromBasisPoints(10001)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestParseScenario(t *testing.T) {
	for s := ScenarioNone; s < NumScenarios; s++ {
		got, err := ParseScenario(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseScenario("meltdown")
	assert.Error(t, err)
}
