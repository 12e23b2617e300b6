// Package ringbuf provides a fixed-capacity overwrite ring for
// dashboard log entries: the newest `capacity` entries are kept and
// older ones silently dropped. Not safe for concurrent use; callers
// serialize access.
package ringbuf

import "td9scan/internal/model"

// Ring keeps the newest entries up to its capacity.
type Ring struct {
	buf     []model.LogEntry
	head    int // next write index
	n       int // live entries
	dropped uint64
}

// New creates a ring. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.LogEntry, capacity)}
}

// Push appends an entry, overwriting the oldest when full.
func (r *Ring) Push(e model.LogEntry) {
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	} else {
		r.dropped++
	}
}

// Len returns the number of live entries.
func (r *Ring) Len() int {
	return r.n
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Dropped returns how many entries have been overwritten.
func (r *Ring) Dropped() uint64 {
	return r.dropped
}

// Tail returns the newest n entries in chronological order. n larger
// than the live count returns everything.
func (r *Ring) Tail(n int) []model.LogEntry {
	if n > r.n {
		n = r.n
	}
	out := make([]model.LogEntry, n)
	start := r.head - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[((start+i)%len(r.buf)+len(r.buf))%len(r.buf)]
	}
	return out
}
