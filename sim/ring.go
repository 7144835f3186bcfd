package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRingSize is the number of descriptors per ring.
const DefaultRingSize = 256

// DescriptorStatus is written once at submission (pending) and once at completion.
type DescriptorStatus uint32

const (
	StatusPending DescriptorStatus = iota
	StatusComplete
	StatusFailed
)

func (s DescriptorStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("DescriptorStatus(%d)", uint32(s))
	}
}

// Descriptor describes one in-flight transfer. The ring owns descriptor
// storage; callers only ever hold copies.
type Descriptor struct {
	BufferAddr uint64
	Length     uint32
	Flags      uint32
	Submitted  time.Time
	Status     DescriptorStatus
}

// Completion is what Ring.Complete hands back for the dequeued descriptor.
type Completion struct {
	Slot    int
	Length  uint32
	Latency time.Duration
	Status  DescriptorStatus
}

// RingCounters are queue-health counters, independent of transfer statistics.
type RingCounters struct {
	Submissions uint64
	Completions uint64
	Overruns    uint64
	Underruns   uint64
}

// Ring is a fixed-capacity circular buffer of descriptors. Submit fails fast
// with ErrOverflow when full. CompleteSlot marks one descriptor final; the
// tail then advances past every final descriptor, so slots are reclaimed in
// submission order even when transfers finish out of order.
//
// Thread-safety: safe for concurrent use. Index mutation happens under one lock.
type Ring struct {
	mu    sync.Mutex
	descs []Descriptor
	head  int // producer index
	tail  int // consumer index
	count int
	now   func() time.Time

	submissions atomic.Uint64
	completions atomic.Uint64
	overruns    atomic.Uint64
	underruns   atomic.Uint64
}

// NewRing creates a ring with the given capacity using the wall clock.
// Panics if capacity <= 0.
func NewRing(capacity int) *Ring {
	return NewRingWithClock(capacity, time.Now)
}

// NewRingWithClock creates a ring whose submit/complete timestamps come from now.
func NewRingWithClock(capacity int, now func() time.Time) *Ring {
	if capacity <= 0 {
		panic(fmt.Sprintf("NewRing: capacity must be > 0, got %d", capacity))
	}
	if now == nil {
		now = time.Now
	}
	return &Ring{
		descs: make([]Descriptor, capacity),
		now:   now,
	}
}

// Submit writes d into the head slot and returns the slot index.
// Submitted and Status are overwritten by the ring.
func (r *Ring) Submit(d Descriptor) (int, error) {
	r.mu.Lock()
	if r.count >= len(r.descs) {
		r.mu.Unlock()
		r.overruns.Add(1)
		logrus.Warnf("descriptor ring overrun (capacity %d)", len(r.descs))
		return -1, ErrOverflow
	}
	slot := r.head
	d.Submitted = r.now()
	d.Status = StatusPending
	r.descs[slot] = d
	r.head = (r.head + 1) % len(r.descs)
	r.count++
	r.mu.Unlock()

	r.submissions.Add(1)
	return slot, nil
}

// Complete finishes the oldest pending descriptor with status.
// It fails with ErrUnderflow when the ring is empty.
func (r *Ring) Complete(status DescriptorStatus) (Completion, error) {
	if status == StatusPending {
		return Completion{Slot: -1}, fmt.Errorf("completing: status must be final")
	}
	r.mu.Lock()
	slot := -1
	if r.count > 0 {
		slot = r.tail
	}
	return r.completeLocked(slot, status)
}

// CompleteSlot writes status into the descriptor at slot and returns its
// length and the time it spent in the ring. A slot that is out of range or
// not pending fails with ErrUnderflow.
func (r *Ring) CompleteSlot(slot int, status DescriptorStatus) (Completion, error) {
	if status == StatusPending {
		return Completion{Slot: -1}, fmt.Errorf("completing slot %d: status must be final", slot)
	}
	r.mu.Lock()
	return r.completeLocked(slot, status)
}

// completeLocked is entered with mu held and releases it. Every final
// descriptor at the tail is reclaimed, so the tail is pending whenever the
// ring is non-empty.
func (r *Ring) completeLocked(slot int, status DescriptorStatus) (Completion, error) {
	if !r.liveLocked(slot) || r.descs[slot].Status != StatusPending {
		r.mu.Unlock()
		r.underruns.Add(1)
		return Completion{Slot: -1}, ErrUnderflow
	}
	desc := &r.descs[slot]
	desc.Status = status
	c := Completion{
		Slot:    slot,
		Length:  desc.Length,
		Latency: r.now().Sub(desc.Submitted),
		Status:  status,
	}
	for r.count > 0 && r.descs[r.tail].Status != StatusPending {
		r.tail = (r.tail + 1) % len(r.descs)
		r.count--
	}
	r.mu.Unlock()

	r.completions.Add(1)
	return c, nil
}

// liveLocked reports whether slot lies between tail and head. Caller holds mu.
func (r *Ring) liveLocked(slot int) bool {
	if slot < 0 || slot >= len(r.descs) {
		return false
	}
	n := len(r.descs)
	return (slot-r.tail+n)%n < r.count
}

// Peek returns a copy of the descriptor in slot. The second result is false
// for an out-of-range slot.
func (r *Ring) Peek(slot int) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot < 0 || slot >= len(r.descs) {
		return Descriptor{}, false
	}
	return r.descs[slot], true
}

// Len returns the number of descriptors not yet reclaimed, including
// finished ones queued behind an older pending descriptor.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.descs)
}

// Space returns the number of free slots.
func (r *Ring) Space() int {
	return r.Cap() - r.Len()
}

// Counters returns the queue-health counters.
func (r *Ring) Counters() RingCounters {
	return RingCounters{
		Submissions: r.submissions.Load(),
		Completions: r.completions.Load(),
		Overruns:    r.overruns.Load(),
		Underruns:   r.underruns.Load(),
	}
}
