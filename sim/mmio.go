package sim

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BAR0 is a 4 KiB control register space.
const Bar0Size = 0x1000

// Control register offsets.
const (
	RegDeviceID        uint32 = 0x000
	RegStatus          uint32 = 0x004
	RegControl         uint32 = 0x008
	RegDMAAddrLo       uint32 = 0x010
	RegDMAAddrHi       uint32 = 0x014
	RegDMASize         uint32 = 0x018
	RegDMAControl      uint32 = 0x01C
	RegInterruptStatus uint32 = 0x020
	RegInterruptEnable uint32 = 0x024
	RegPerfLatency     uint32 = 0x030
	RegPerfCount       uint32 = 0x034
	RegErrorStatus     uint32 = 0x040
	RegErrorInject     uint32 = 0x044
)

// Status register bits.
const (
	StatusDeviceReady      uint32 = 1 << 0
	StatusDMABusy          uint32 = 1 << 1
	StatusError            uint32 = 1 << 2
	StatusInterruptPending uint32 = 1 << 3
)

// Control register bits.
const (
	ControlDeviceEnable uint32 = 1 << 0
	ControlDMAStart     uint32 = 1 << 1
	ControlDMAReset     uint32 = 1 << 2
	ControlIRQEnable    uint32 = 1 << 3
)

// DMA control register bits.
const (
	DMAControlDirection uint32 = 1 << 0 // 0=to device, 1=from device
	DMAControlEnable    uint32 = 1 << 1
	DMAControlInterrupt uint32 = 1 << 2
)

// Interrupt status/enable bits.
const (
	IRQDMAComplete   uint32 = 1 << 0
	IRQDMAError      uint32 = 1 << 1
	IRQBufferOverrun uint32 = 1 << 2
	IRQDeviceError   uint32 = 1 << 3
)

// DeviceIDValue is what RegDeviceID reads back.
const DeviceIDValue uint32 = 0x1234ABCD

// InvalidRegister is returned for reads outside BAR0 or unaligned offsets.
const InvalidRegister uint32 = 0xFFFFFFFF

// Registers simulates the BAR0 register file of one device.
//
// Thread-safety: safe for concurrent use.
type Registers struct {
	mu         sync.Mutex
	bar        [Bar0Size / 4]uint32
	dmaActive  int
	irqPending bool

	// onErrorInject is called with the low byte of a RegErrorInject write.
	onErrorInject func(rate uint32)
}

// NewRegisters returns a register file in its power-on state.
func NewRegisters() *Registers {
	r := &Registers{}
	r.set(RegDeviceID, DeviceIDValue)
	r.set(RegStatus, StatusDeviceReady)
	r.set(RegControl, ControlDeviceEnable)
	r.set(RegInterruptEnable, IRQDMAComplete|IRQDMAError)
	return r
}

func validOffset(off uint32) bool {
	return off < Bar0Size && off%4 == 0
}

func (r *Registers) get(off uint32) uint32    { return r.bar[off/4] }
func (r *Registers) set(off uint32, v uint32) { r.bar[off/4] = v }

// Read32 reads a register. Status busy/irq-pending bits are computed live.
func (r *Registers) Read32(off uint32) uint32 {
	if !validOffset(off) {
		logrus.Warnf("invalid MMIO read: offset=0x%x", off)
		return InvalidRegister
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.get(off)
	if off == RegStatus {
		v &^= StatusDMABusy | StatusInterruptPending
		if r.dmaActive > 0 {
			v |= StatusDMABusy
		}
		if r.irqPending {
			v |= StatusInterruptPending
		}
	}
	return v
}

// Write32 writes a register. RegInterruptStatus is write-1-to-clear,
// ControlDMAReset is self-clearing and RegDeviceID is read-only.
func (r *Registers) Write32(off uint32, v uint32) {
	if !validOffset(off) {
		logrus.Warnf("invalid MMIO write: offset=0x%x value=0x%x", off, v)
		return
	}
	var inject func(uint32)
	var rate uint32

	r.mu.Lock()
	switch off {
	case RegDeviceID:
		r.mu.Unlock()
		return
	case RegControl:
		if v&ControlDMAReset != 0 {
			r.dmaActive = 0
			v &^= ControlDMAReset
		}
	case RegInterruptStatus:
		cur := r.get(off) &^ v
		r.set(off, cur)
		if cur == 0 {
			r.irqPending = false
		}
		r.mu.Unlock()
		return
	case RegErrorInject:
		inject, rate = r.onErrorInject, v&0xFF
	}
	r.set(off, v)
	r.mu.Unlock()

	if inject != nil {
		inject(rate)
	}
}

// beginDMA latches the DMA registers for a transfer entering the engine.
func (r *Registers) beginDMA(addr uint64, size int, dir Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(RegDMAAddrLo, uint32(addr))
	r.set(RegDMAAddrHi, uint32(addr>>32))
	r.set(RegDMASize, uint32(size))
	ctl := DMAControlEnable | DMAControlInterrupt
	if dir == FromDevice {
		ctl |= DMAControlDirection
	}
	r.set(RegDMAControl, ctl)
	r.dmaActive++
}

// completeDMA updates status, interrupt and performance registers after a transfer.
func (r *Registers) completeDMA(success bool, latency time.Duration, count uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dmaActive > 0 {
		r.dmaActive--
	}
	status := r.get(RegStatus)
	irq := r.get(RegInterruptStatus)
	if success {
		irq |= IRQDMAComplete
		r.set(RegPerfLatency, uint32(latency/time.Microsecond))
		r.set(RegPerfCount, uint32(count))
	} else {
		status |= StatusError
		irq |= IRQDMAError
		r.set(RegErrorStatus, r.get(RegErrorStatus)+1)
	}
	r.set(RegStatus, status)
	r.set(RegInterruptStatus, irq)
	r.irqPending = true
}

// overrun raises the buffer-overrun interrupt after a rejected submission.
func (r *Registers) overrun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(RegInterruptStatus, r.get(RegInterruptStatus)|IRQBufferOverrun)
	r.irqPending = true
}
