package frames

import (
	"sync"
	"time"
)

// Stats is a snapshot of ring counters for telemetry
type Stats struct {
	Pushed             uint64
	Popped             uint64
	EvictedOverflow    uint64
	DroppedStale       uint64
	RejectedOutOfOrder uint64
}

// Ring is a fixed-capacity frame buffer with staleness-aware eviction.
// Single producer (capture loop), single consumer (orchestrator); all
// access is serialized behind one mutex held only for pointer shuffling
type Ring struct {
	mu    sync.Mutex
	buf   []*Frame
	head  int
	size  int
	stale time.Duration

	lastCaptured time.Time
	stats        Stats
}

// NewRing creates a ring holding at most capacity frames. Frames older
// than staleAfter at pop time are dropped instead of handed downstream
func NewRing(capacity int, staleAfter time.Duration) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf:   make([]*Frame, capacity),
		stale: staleAfter,
	}
}

// Push inserts a frame, evicting the oldest when the ring is full.
// Overflow eviction is expected under load and is counted, not an error.
// Frames whose capture time does not advance past the previously accepted
// one are rejected so a capture-clock defect cannot corrupt latency math.
// Returns false when the frame was rejected
func (r *Ring) Push(f *Frame) bool {
	if f == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastCaptured.IsZero() && !f.CapturedAt.After(r.lastCaptured) {
		r.stats.RejectedOutOfOrder++
		return false
	}
	r.lastCaptured = f.CapturedAt

	if r.size == len(r.buf) {
		r.buf[r.head] = nil
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		r.stats.EvictedOverflow++
	}

	r.buf[(r.head+r.size)%len(r.buf)] = f
	r.size++
	r.stats.Pushed++
	return true
}

// PopReady returns the oldest frame still worth inferring on, or nil.
// Frames whose age exceeds the staleness threshold are dropped first; a
// detection for them would arrive too late to act on
func (r *Ring) PopReady(now time.Time) *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.size > 0 {
		f := r.buf[r.head]
		r.buf[r.head] = nil
		r.head = (r.head + 1) % len(r.buf)
		r.size--

		if now.Sub(f.CapturedAt) > r.stale {
			r.stats.DroppedStale++
			continue
		}
		r.stats.Popped++
		return f
	}
	return nil
}

// Len reports how many frames are queued
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Stats returns a counter snapshot
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
