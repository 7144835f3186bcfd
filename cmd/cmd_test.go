package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pcie-sim/pcie-sim/sim/record"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunCommand_LogsSessionAndPrintsStatus(t *testing.T) {
	// GIVEN two devices running the custom pattern with a CSV log
	path := filepath.Join(t.TempDir(), "session.csv")
	out, err := execute(t, "run", "--backend", "sim", "--devices", "2",
		"--pattern", "custom", "--size", "64", "--rate", "10000", "--csv", path)
	require.NoError(t, err)

	// THEN both devices report a pass and their statistics
	assert.Contains(t, out, "Device 0 - Pattern: custom")
	assert.Contains(t, out, "Device 1 - Pattern: custom")
	assert.Contains(t, out, "=== Device 0 Statistics ===")
	assert.Contains(t, out, "=== Device 1 Statistics ===")
	assert.Contains(t, out, "Total Transfers      : 50")

	// AND the session log holds every transfer followed by the summary
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	recs, err := record.Read(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, recs, 100)
	for _, r := range recs {
		assert.Equal(t, 64, r.Size)
	}
	assert.Contains(t, string(data), "# Total Records: 100")
	assert.Contains(t, string(data), "# Configuration: backend=sim devices=2 pattern=custom")
}

func TestRunCommand_FaultsReachStatus(t *testing.T) {
	out, err := execute(t, "run", "--backend", "ioctl", "--pattern", "custom",
		"--size", "256", "--rate", "10000", "--no-pacing",
		"--error", "corruption", "--error-prob", "1", "--recovery", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Total Errors         : 50")
	assert.Contains(t, out, "corruption         : 50")
}

func TestRunCommand_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown pattern", []string{"run", "--pattern", "random"}},
		{"bad log level", []string{"run", "--log", "loud"}},
		{"unknown backend", []string{"run", "--backend", "pci"}},
		{"zero devices", []string{"run", "--devices", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestStressCommand_ReportsWorkers(t *testing.T) {
	out, err := execute(t, "stress", "--threads", "2", "--duration", "1",
		"--pattern", "custom", "--size", "128", "--rate", "1000")
	require.NoError(t, err)
	assert.Contains(t, out, "Thread 0 (Device 0)")
	assert.Contains(t, out, "Thread 1 (Device 0)")
	assert.Contains(t, out, "Stress test completed in")
	assert.Contains(t, out, "=== Device 0 Statistics ===")
}

func TestBenchCommand_PerDeviceTable(t *testing.T) {
	path := t.TempDir()
	out, err := execute(t, "bench", "--backend", "spin", "--devices", "2",
		"--transfers", "20", "--warmup", "5", "--csv", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Benchmark Results:")
	assert.Contains(t, out, "Transfers: 40")
	assert.Contains(t, out, "Per-Device Statistics:")

	// A directory target gets a timestamped log with only measured transfers.
	entries, err := os.ReadDir(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "pcie_test_"))
	data, err := os.ReadFile(filepath.Join(path, entries[0].Name()))
	require.NoError(t, err)
	recs, err := record.Read(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, recs, 40)
	for _, r := range recs {
		assert.Equal(t, defaultBenchSize, r.Size)
	}
}

func TestBenchCommand_EnvironmentTransfers(t *testing.T) {
	t.Setenv("PCIESIM_TRANSFERS", "7")
	t.Setenv("PCIESIM_WARMUP", "0")
	out, err := execute(t, "bench", "--backend", "spin", "--size", "512")
	require.NoError(t, err)
	assert.Contains(t, out, "Transfers: 7\n")
	assert.NotContains(t, out, "Per-Device Statistics:")
}

func TestRunCommand_MetricsServer(t *testing.T) {
	out, err := execute(t, "run", "--metrics-addr", "127.0.0.1:0", "--pattern", "custom",
		"--size", "64", "--rate", "10000", "--no-pacing")
	require.NoError(t, err)
	assert.Contains(t, out, "Device 0 - Pattern: custom")
}
