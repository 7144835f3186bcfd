package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegisters_PowerOnState(t *testing.T) {
	r := NewRegisters()
	assert.Equal(t, DeviceIDValue, r.Read32(RegDeviceID))
	assert.Equal(t, StatusDeviceReady, r.Read32(RegStatus))
	assert.Equal(t, ControlDeviceEnable, r.Read32(RegControl))
	assert.Equal(t, IRQDMAComplete|IRQDMAError, r.Read32(RegInterruptEnable))
}

func TestRegisters_InvalidOffsets(t *testing.T) {
	r := NewRegisters()
	tests := []struct {
		name string
		off  uint32
	}{
		{"past BAR0", Bar0Size},
		{"far past BAR0", 0xFFFF0},
		{"unaligned", RegStatus + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, InvalidRegister, r.Read32(tt.off))
			r.Write32(tt.off, 0x55)
		})
	}
	assert.Equal(t, StatusDeviceReady, r.Read32(RegStatus), "invalid writes ignored")
}

func TestRegisters_DeviceIDReadOnly(t *testing.T) {
	r := NewRegisters()
	r.Write32(RegDeviceID, 0)
	assert.Equal(t, DeviceIDValue, r.Read32(RegDeviceID))
}

func TestRegisters_InterruptStatusWriteOneToClear(t *testing.T) {
	r := NewRegisters()
	r.beginDMA(0, 64, ToDevice)
	r.completeDMA(false, 0, 0)
	r.overrun()

	irq := r.Read32(RegInterruptStatus)
	assert.Equal(t, IRQDMAError|IRQBufferOverrun, irq)
	assert.NotZero(t, r.Read32(RegStatus)&StatusInterruptPending)
	assert.NotZero(t, r.Read32(RegStatus)&StatusError)
	assert.Equal(t, uint32(1), r.Read32(RegErrorStatus))

	r.Write32(RegInterruptStatus, IRQDMAError)
	assert.Equal(t, IRQBufferOverrun, r.Read32(RegInterruptStatus))
	assert.NotZero(t, r.Read32(RegStatus)&StatusInterruptPending, "still one bit set")

	r.Write32(RegInterruptStatus, IRQBufferOverrun)
	assert.Zero(t, r.Read32(RegInterruptStatus))
	assert.Zero(t, r.Read32(RegStatus)&StatusInterruptPending)
}

func TestRegisters_BusyWhileDMAActive(t *testing.T) {
	r := NewRegisters()
	r.beginDMA(0x1000, 4096, ToDevice)
	r.beginDMA(0x2000, 4096, ToDevice)
	assert.NotZero(t, r.Read32(RegStatus)&StatusDMABusy)

	r.completeDMA(true, 25*time.Microsecond, 1)
	assert.NotZero(t, r.Read32(RegStatus)&StatusDMABusy, "one still in flight")
	r.completeDMA(true, 30*time.Microsecond, 2)
	assert.Zero(t, r.Read32(RegStatus)&StatusDMABusy)
	assert.Equal(t, uint32(30), r.Read32(RegPerfLatency))
	assert.Equal(t, uint32(2), r.Read32(RegPerfCount))
}

func TestRegisters_DMAResetSelfClears(t *testing.T) {
	r := NewRegisters()
	r.beginDMA(0, 64, ToDevice)
	r.Write32(RegControl, ControlDeviceEnable|ControlDMAReset)
	assert.Zero(t, r.Read32(RegStatus)&StatusDMABusy)
	assert.Equal(t, ControlDeviceEnable, r.Read32(RegControl))
}

func TestRegisters_ErrorInjectCallback(t *testing.T) {
	r := NewRegisters()
	var got []uint32
	r.onErrorInject = func(rate uint32) { got = append(got, rate) }
	r.Write32(RegErrorInject, 0x1_0A)
	assert.Equal(t, []uint32{0x0A}, got, "low byte only")
}
