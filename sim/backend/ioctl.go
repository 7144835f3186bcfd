package backend

import (
	"bytes"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pcie-sim/pcie-sim/sim"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ioctlBackend serves encoded command frames. Every frame is dispatched on
// its own goroutine, the way an ioctl runs in its caller's context, so
// concurrent callers never queue behind each other's simulated waits.
// Callers hold file-descriptor-like handles; every operation on a handle is
// a request frame carrying the command code and the descriptor number.
type ioctlBackend struct {
	table *sim.DeviceTable
	// calls tracks in-flight dispatches so Close can drain them.
	calls errgroup.Group

	mu     sync.Mutex
	closed bool
	nextFD uint32
	fds    map[uint32]*sim.Device
}

func newIoctl(opts Options) *ioctlBackend {
	return &ioctlBackend{
		table:  newTable(sim.TimerSleeper{}, opts),
		nextFD: 3,
		fds:    make(map[uint32]*sim.Device),
	}
}

func (b *ioctlBackend) Name() string { return NameIoctl }

func (b *ioctlBackend) Open(id int) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, unavailable("ioctl backend is closed")
	}
	dev, err := b.table.Acquire(id)
	if err != nil {
		return nil, err
	}
	fd := b.nextFD
	b.nextFD++
	b.fds[fd] = dev
	logrus.Debugf("ioctl backend: device %d opened as fd %d", id, fd)
	return &ioctlHandle{b: b, fd: fd, id: id}, nil
}

func (b *ioctlBackend) Device(id int) (*sim.Device, bool) {
	return b.table.Lookup(id)
}

// Close waits for in-flight calls, then releases every descriptor still open.
func (b *ioctlBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.calls.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for fd, dev := range b.fds {
		delete(b.fds, fd)
		if rerr := b.table.Release(dev.ID()); rerr != nil {
			logrus.Warnf("ioctl backend: release fd %d: %v", fd, rerr)
		}
	}
	return err
}

func (b *ioctlBackend) release(fd uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev, ok := b.fds[fd]
	if !ok {
		return nil
	}
	delete(b.fds, fd)
	return b.table.Release(dev.ID())
}

func (b *ioctlBackend) lookup(fd uint32) (*sim.Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev, ok := b.fds[fd]
	return dev, ok
}

// roundTrip dispatches a frame and waits for its reply. A frame accepted
// before Close is always answered.
func (b *ioctlBackend) roundTrip(frame []byte) ([]byte, error) {
	reply := make(chan []byte, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, unavailable("ioctl backend is closed")
	}
	b.calls.Go(func() error {
		reply <- b.dispatch(frame)
		return nil
	})
	b.mu.Unlock()
	return <-reply, nil
}

// dispatch decodes one request, runs it against the device and encodes the reply.
func (b *ioctlBackend) dispatch(frame []byte) []byte {
	start := time.Now()
	r := bytes.NewReader(frame)
	h, err := decodeRequestHeader(r)
	if err != nil {
		return encodeReply(&sim.TransferError{Kind: sim.KindInvalidParameter, Err: err}, nil)
	}
	cmd := command(h.Cmd)
	dev, ok := b.lookup(h.FD)
	if !ok {
		return encodeReply(unavailable("bad file descriptor %d", h.FD), nil)
	}
	defer func() {
		logrus.Tracef("ioctl fd=%d %s served in %v", h.FD, cmd, time.Since(start))
	}()

	switch cmd {
	case cmdTransfer:
		var a transferArgs
		if err := binary.Read(r, order, &a); err != nil {
			return encodeReply(invalid("short %s arguments: %v", cmd, err), nil)
		}
		out, err := dev.Transfer(sim.TransferRequest{
			Size:      int(a.Size),
			Direction: sim.Direction(a.Direction),
			Class:     sim.ThroughputClass(a.Class),
			Handle:    a.Handle,
		})
		return encodeReply(err, toOutcomeWire(out))
	case cmdGetStats:
		return encodeReply(nil, toStatsWire(dev.Stats()))
	case cmdResetStats:
		dev.ResetStats()
		return encodeReply(nil, nil)
	case cmdSetError:
		var a errorArgs
		if err := binary.Read(r, order, &a); err != nil {
			return encodeReply(invalid("short %s arguments: %v", cmd, err), nil)
		}
		return encodeReply(dev.SetErrorConfig(sim.ErrorConfig{
			Scenario:     sim.Scenario(a.Scenario),
			Probability:  a.Probability,
			RecoveryTime: time.Duration(a.RecoveryNs),
		}), nil)
	default:
		return encodeReply(invalid("unknown ioctl command %d", h.Cmd), nil)
	}
}

// ioctlHandle is the caller side of one open descriptor.
type ioctlHandle struct {
	b      *ioctlBackend
	fd     uint32
	id     int
	closed atomic.Bool
}

func (h *ioctlHandle) DeviceID() int { return h.id }

func (h *ioctlHandle) do(cmd command, args any) (*bytes.Reader, error) {
	if h.closed.Load() {
		return nil, unavailable("fd %d is closed", h.fd)
	}
	reply, err := h.b.roundTrip(encodeRequest(cmd, h.fd, args))
	if err != nil {
		return nil, err
	}
	return decodeReply(reply)
}

func (h *ioctlHandle) Transfer(req sim.TransferRequest) (sim.TransferOutcome, error) {
	r, err := h.do(cmdTransfer, transferArgs{
		Size:      clampU32(req.Size),
		Direction: uint32(req.Direction),
		Class:     uint32(req.Class),
		Handle:    req.Handle,
	})
	if r == nil {
		return sim.TransferOutcome{}, err
	}
	var w outcomeWire
	if rerr := binary.Read(r, order, &w); rerr != nil {
		return sim.TransferOutcome{}, unavailable("short %s reply: %v", cmdTransfer, rerr)
	}
	return w.outcome(), err
}

func (h *ioctlHandle) Stats() (sim.StatsSnapshot, error) {
	r, err := h.do(cmdGetStats, nil)
	if err != nil {
		return sim.StatsSnapshot{}, err
	}
	var w statsWire
	if err := binary.Read(r, order, &w); err != nil {
		return sim.StatsSnapshot{}, unavailable("short %s reply: %v", cmdGetStats, err)
	}
	return w.snapshot(), nil
}

func (h *ioctlHandle) ResetStats() error {
	_, err := h.do(cmdResetStats, nil)
	return err
}

func (h *ioctlHandle) SetErrorConfig(cfg sim.ErrorConfig) error {
	_, err := h.do(cmdSetError, errorArgs{
		Scenario:    uint32(cfg.Scenario),
		Probability: cfg.Probability,
		RecoveryNs:  int64(cfg.RecoveryTime),
	})
	return err
}

func (h *ioctlHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.b.release(h.fd)
}

// clampU32 keeps out-of-range sizes out of range after narrowing, so the
// serving side still rejects them.
func clampU32(n int) uint32 {
	switch {
	case n < 0:
		return 0
	case uint64(n) > 0xFFFFFFFF:
		return 0xFFFFFFFF
	}
	return uint32(n)
}
