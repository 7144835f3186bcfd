package backend

import (
	"sync"
	"sync/atomic"

	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/sirupsen/logrus"
)

// localBackend runs the engine in the caller's goroutine. The "sim" and
// "spin" backends differ only in the Sleeper they hand to their devices.
type localBackend struct {
	name  string
	table *sim.DeviceTable

	mu      sync.Mutex
	closed  bool
	handles map[*localHandle]struct{}
}

func newLocal(name string, sleeper sim.Sleeper, opts Options) *localBackend {
	return &localBackend{
		name:    name,
		table:   newTable(sleeper, opts),
		handles: make(map[*localHandle]struct{}),
	}
}

func (b *localBackend) Name() string { return b.name }

func (b *localBackend) Open(id int) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, unavailable("%s backend is closed", b.name)
	}
	dev, err := b.table.Acquire(id)
	if err != nil {
		return nil, err
	}
	h := &localHandle{b: b, dev: dev}
	b.handles[h] = struct{}{}
	logrus.Debugf("%s backend: opened device %d", b.name, id)
	return h, nil
}

func (b *localBackend) Device(id int) (*sim.Device, bool) {
	return b.table.Lookup(id)
}

// Close releases every handle still open.
func (b *localBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for h := range b.handles {
		h.closed.Store(true)
		b.releaseLocked(h)
	}
	return nil
}

func (b *localBackend) release(h *localHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.releaseLocked(h)
}

func (b *localBackend) releaseLocked(h *localHandle) error {
	if _, ok := b.handles[h]; !ok {
		return nil
	}
	delete(b.handles, h)
	return b.table.Release(h.dev.ID())
}

type localHandle struct {
	b      *localBackend
	dev    *sim.Device
	closed atomic.Bool
}

func (h *localHandle) DeviceID() int { return h.dev.ID() }

func (h *localHandle) check() error {
	if h.closed.Load() {
		return unavailable("device %d handle is closed", h.dev.ID())
	}
	return nil
}

func (h *localHandle) Transfer(req sim.TransferRequest) (sim.TransferOutcome, error) {
	if err := h.check(); err != nil {
		return sim.TransferOutcome{}, err
	}
	return h.dev.Transfer(req)
}

func (h *localHandle) Stats() (sim.StatsSnapshot, error) {
	if err := h.check(); err != nil {
		return sim.StatsSnapshot{}, err
	}
	return h.dev.Stats(), nil
}

func (h *localHandle) ResetStats() error {
	if err := h.check(); err != nil {
		return err
	}
	h.dev.ResetStats()
	return nil
}

func (h *localHandle) SetErrorConfig(cfg sim.ErrorConfig) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.dev.SetErrorConfig(cfg)
}

func (h *localHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.b.release(h)
}
