package frame

import (
	"sync"
	"time"
)

// PushResult reports what Push did with a frame.
type PushResult int

const (
	Accepted PushResult = iota
	Evicted             // accepted; the oldest pending frame was dropped to make room
	Closed              // queue closed; frame dropped
)

func (r PushResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Evicted:
		return "evicted"
	default:
		return "closed"
	}
}

type QueueStats struct {
	Pushed  uint64 `json:"pushed"`
	Evicted uint64 `json:"evicted"`
	Stale   uint64 `json:"stale"` // discarded by PopLatest in favour of a newer frame
	Popped  uint64 `json:"popped"`
}

// Queue is a bounded, latest-wins mailbox. Any number of producers may Push;
// a single consumer calls PopLatest. Push never blocks.
type Queue struct {
	mu      sync.Mutex
	pending []*Frame // oldest first
	cap     int
	closed  bool
	stats   QueueStats

	notify chan struct{} // one-slot wake-up for a waiting consumer
	done   chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		pending: make([]*Frame, 0, capacity),
		cap:     capacity,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (q *Queue) Cap() int { return q.cap }

// Push admits f, evicting the oldest pending frame when the queue is full.
func (q *Queue) Push(f *Frame) PushResult {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Closed
	}
	res := Accepted
	if len(q.pending) == q.cap {
		copy(q.pending, q.pending[1:])
		q.pending[len(q.pending)-1] = nil
		q.pending = q.pending[:len(q.pending)-1]
		q.stats.Evicted++
		res = Evicted
	}
	q.pending = append(q.pending, f)
	q.stats.Pushed++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return res
}

// PopLatest returns the newest pending frame and discards the rest. When the
// queue is empty it waits up to timeout for a push; a zero timeout never waits.
func (q *Queue) PopLatest(timeout time.Duration) (*Frame, bool) {
	var timer *time.Timer
	for {
		q.mu.Lock()
		if n := len(q.pending); n > 0 {
			f := q.pending[n-1]
			q.stats.Stale += uint64(n - 1)
			q.stats.Popped++
			clear(q.pending)
			q.pending = q.pending[:0]
			q.mu.Unlock()
			return f, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed || timeout <= 0 {
			return nil, false
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-q.notify:
		case <-q.done:
		case <-timer.C:
			return nil, false
		}
	}
}

// Drain removes and returns every pending frame, oldest first.
func (q *Queue) Drain() []*Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Frame, len(q.pending))
	copy(out, q.pending)
	clear(q.pending)
	q.pending = q.pending[:0]
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close rejects further pushes and wakes a waiting consumer. Pending frames
// can still be popped. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
