package transport

import (
	"fmt"
	"sync"
)

// QueueEntry is one pending dispatch-queue slot (§4.5.2).
type QueueEntry struct {
	RequestID string
	JobID     string
	TabID     string
}

// BackpressureError mirrors the OFFSCREEN_BACKPRESSURE error code,
// carrying the suggested retry delay (§4.5.2: "waitMs =
// max(500, ceil(queueLen/maxConcurrent) · 250)").
type BackpressureError struct {
	WaitMs int
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("transport: dispatch queue full, retry after %dms", e.WaitMs)
}

// DispatchQueue is the bounded FIFO the Remote Executor Transport uses to
// serialize calls to the out-of-process worker while avoiding starving
// non-active tabs and back-to-back same-job scheduling (§4.5.2). It is
// the one resource shared across concurrently-stepping jobs, so unlike
// the engine's job-local queue counters it carries its own lock.
type DispatchQueue struct {
	mu      sync.Mutex
	entries []QueueEntry

	maxQueued     int
	maxConcurrent int
	inFlight      int

	activeTabIDProvider func() string
	dispatchCursor      int
	lastDispatchedJobID string
	lastDispatchedTabID string
}

// NewDispatchQueue constructs a queue with the §4.5.2 defaults
// (maxQueued=120, maxConcurrent=1) when given non-positive values.
func NewDispatchQueue(maxQueued, maxConcurrent int, activeTabIDProvider func() string) *DispatchQueue {
	if maxQueued <= 0 {
		maxQueued = 120
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &DispatchQueue{
		maxQueued:           maxQueued,
		maxConcurrent:       maxConcurrent,
		activeTabIDProvider: activeTabIDProvider,
	}
}

// Enqueue adds entry to the queue, or returns *BackpressureError if the
// queue is already at maxQueued.
func (q *DispatchQueue) Enqueue(entry QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.maxQueued {
		waitMs := 500
		if w := ceilDiv(len(q.entries), q.maxConcurrent) * 250; w > waitMs {
			waitMs = w
		}
		return &BackpressureError{WaitMs: waitMs}
	}
	q.entries = append(q.entries, entry)
	return nil
}

// Next selects and removes the next dispatchable entry per the §4.5.2
// fairness rule. ok is false when nothing can be dispatched right now
// (queue empty or concurrency limit reached).
func (q *DispatchQueue) Next() (entry QueueEntry, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 || q.inFlight >= q.maxConcurrent {
		return QueueEntry{}, false
	}

	activeTabID := ""
	if q.activeTabIDProvider != nil {
		activeTabID = q.activeTabIDProvider()
	}

	idx := q.selectIndex(activeTabID)
	entry = q.entries[idx]
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)

	if idx < q.dispatchCursor {
		q.dispatchCursor--
	}
	if len(q.entries) == 0 {
		q.dispatchCursor = 0
	} else if q.dispatchCursor >= len(q.entries) {
		q.dispatchCursor = 0
	}

	q.lastDispatchedJobID = entry.JobID
	q.lastDispatchedTabID = entry.TabID
	q.inFlight++
	return entry, true
}

// Release frees one concurrent dispatch slot, called when a worker call
// for a previously-dispatched entry completes (success, failure, or
// cancellation).
func (q *DispatchQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
}

// selectIndex implements §4.5.2 steps 2-4.
func (q *DispatchQueue) selectIndex(activeTabID string) int {
	n := len(q.entries)

	if activeTabID != "" {
		for i := 0; i < n; i++ {
			idx := (q.dispatchCursor + i) % n
			e := q.entries[idx]
			if e.TabID != activeTabID {
				continue
			}
			if q.collidesWithLast(e) && n > 1 {
				continue
			}
			return idx
		}
	}

	for i := 0; i < n; i++ {
		idx := (q.dispatchCursor + i) % n
		if q.entries[idx].JobID != q.lastDispatchedJobID {
			return idx
		}
	}

	if q.dispatchCursor < n {
		return q.dispatchCursor
	}
	return 0
}

func (q *DispatchQueue) collidesWithLast(e QueueEntry) bool {
	return e.JobID == q.lastDispatchedJobID || e.TabID == q.lastDispatchedTabID
}

// Len reports the current queue depth.
func (q *DispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
