package sim

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// MaxDevices is the number of device slots per process.
const MaxDevices = 8

// DeviceFactory builds the device for a slot on first open.
type DeviceFactory func(id int) (*Device, error)

type deviceSlot struct {
	mu   sync.Mutex
	dev  *Device
	refs int
}

// DeviceTable is a fixed arena of MaxDevices slots addressed by device id.
// Each slot has its own lock, so opening or closing one device never blocks
// traffic on another. The first Acquire of an id builds the device, later
// ones share it, and the last Release closes it.
type DeviceTable struct {
	slots   [MaxDevices]deviceSlot
	factory DeviceFactory
}

// NewDeviceTable returns an empty table. factory must not be nil.
func NewDeviceTable(factory DeviceFactory) *DeviceTable {
	if factory == nil {
		panic("NewDeviceTable: factory must not be nil")
	}
	return &DeviceTable{factory: factory}
}

func (t *DeviceTable) slot(id int) (*deviceSlot, error) {
	if id < 0 || id >= MaxDevices {
		return nil, backendUnavailable("device %d out of range [0,%d)", id, MaxDevices)
	}
	return &t.slots[id], nil
}

// Acquire opens device id, building it on first use.
func (t *DeviceTable) Acquire(id int) (*Device, error) {
	s, err := t.slot(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		dev, err := t.factory(id)
		if err != nil {
			return nil, &TransferError{Kind: KindBackendUnavailable, Err: fmt.Errorf("open device %d: %w", id, err)}
		}
		s.dev = dev
		logrus.Infof("device %d opened", id)
	}
	s.refs++
	return s.dev, nil
}

// Release drops one reference to device id. The device is closed and its
// statistics discarded when the count reaches zero.
func (t *DeviceTable) Release(id int) error {
	s, err := t.slot(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return backendUnavailable("device %d is not open", id)
	}
	s.refs--
	if s.refs == 0 {
		s.dev.Close()
		s.dev = nil
		logrus.Infof("device %d released", id)
	}
	return nil
}

// Lookup returns the open device for id without taking a reference.
func (t *DeviceTable) Lookup(id int) (*Device, bool) {
	s, err := t.slot(id)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev, s.dev != nil
}

// Open returns the ids of every open device in ascending order.
func (t *DeviceTable) Open() []int {
	var ids []int
	for id := range t.slots {
		if _, ok := t.Lookup(id); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
