package supervise

import (
	"sync"
	"time"
)

// Stream identifies which pipe a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// String returns the string representation of a Stream.
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one line of child output with escape sequences removed.
type Line struct {
	Stream Stream
	Text   string
	At     time.Time
}

// RingBuffer keeps the newest lines up to a fixed capacity. Appends evict
// the oldest line once full. Safe for one writer and many readers.
type RingBuffer struct {
	mu    sync.RWMutex
	lines []Line
	start int
	count int
	total uint64
}

// NewRingBuffer returns a ring holding at most capacity lines.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{lines: make([]Line, capacity)}
}

// Append adds l, evicting the oldest line when the ring is full.
func (r *RingBuffer) Append(l Line) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.lines)
	if r.count < capacity {
		r.lines[(r.start+r.count)%capacity] = l
		r.count++
	} else {
		r.lines[r.start] = l
		r.start = (r.start + 1) % capacity
	}
	r.total++
}

// Snapshot returns the buffered lines, oldest first.
func (r *RingBuffer) Snapshot() []Line {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Line, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

// Len returns the number of buffered lines.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *RingBuffer) Cap() int {
	return len(r.lines)
}

// Total returns how many lines were ever appended, evicted ones included.
func (r *RingBuffer) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
