package sim

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T, built *atomic.Int32) *DeviceTable {
	t.Helper()
	return NewDeviceTable(func(id int) (*Device, error) {
		if built != nil {
			built.Add(1)
		}
		return NewDevice(id, DeviceConfig{Sleeper: &InstantSleeper{}, RNG: NewPartitionedRNG(NewSimulationKey(int64(id)))})
	})
}

func TestDeviceTable_SharedHandleAndLastCloseDestroys(t *testing.T) {
	var built atomic.Int32
	tbl := testTable(t, &built)

	a, err := tbl.Acquire(3)
	require.NoError(t, err)
	b, err := tbl.Acquire(3)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), built.Load())

	_, err = a.Transfer(TransferRequest{Size: 4096})
	require.NoError(t, err)

	require.NoError(t, tbl.Release(3))
	assert.False(t, a.Closed(), "one reference left")
	require.NoError(t, tbl.Release(3))
	assert.True(t, a.Closed())
	_, ok := tbl.Lookup(3)
	assert.False(t, ok)

	// BDD: reopening builds a fresh device with zeroed stats
	c, err := tbl.Acquire(3)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, StatsSnapshot{}, c.Stats())
	assert.Equal(t, int32(2), built.Load())
}

func TestDeviceTable_OutOfRange(t *testing.T) {
	tbl := testTable(t, nil)
	for _, id := range []int{-1, MaxDevices, 100} {
		_, err := tbl.Acquire(id)
		assert.ErrorIs(t, err, ErrBackendUnavailable, "id %d", id)
		assert.ErrorIs(t, tbl.Release(id), ErrBackendUnavailable)
	}
}

func TestDeviceTable_ReleaseUnopened(t *testing.T) {
	tbl := testTable(t, nil)
	assert.ErrorIs(t, tbl.Release(0), ErrBackendUnavailable)
}

func TestDeviceTable_FactoryFailure(t *testing.T) {
	boom := errors.New("boom")
	tbl := NewDeviceTable(func(int) (*Device, error) { return nil, boom })
	_, err := tbl.Acquire(0)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, tbl.Open())
}

func TestDeviceTable_ConcurrentAcquireBuildsOnce(t *testing.T) {
	var built atomic.Int32
	tbl := testTable(t, &built)
	var wg sync.WaitGroup
	devs := make([]*Device, 32)
	for i := range devs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := tbl.Acquire(i % MaxDevices)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			devs[i] = d
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(MaxDevices), built.Load())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, tbl.Open())
	for i := range devs {
		assert.Same(t, devs[i%MaxDevices], devs[i])
	}
}

func TestNewDeviceTable_NilFactoryPanics(t *testing.T) {
	assert.Panics(t, func() { NewDeviceTable(nil) })
}
