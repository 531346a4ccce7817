package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // envelope JSON
}

// ReplayBuffer keeps the most recent envelopes of one channel in a fixed
// ring, oldest overwritten first. Safe for concurrent use.
type ReplayBuffer struct {
	mu    sync.RWMutex
	buf   []replayEntry
	head  int // index of the oldest entry
	count int
}

// NewReplayBuffer creates a replay buffer holding up to capacity entries.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayCapacity
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push stores a copy of data under seq.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := len(rb.buf)
	if rb.count < n {
		rb.buf[(rb.head+rb.count)%n] = replayEntry{Seq: seq, Data: cp}
		rb.count++
		return
	}
	rb.buf[rb.head] = replayEntry{Seq: seq, Data: cp}
	rb.head = (rb.head + 1) % n
}

// Range returns entries with fromSeq <= seq <= toSeq, oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	for i := 0; i < rb.count; i++ {
		e := rb.buf[(rb.head+i)%len(rb.buf)]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of buffered entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
