// Package timerqueue implements the scheduler's priority-ordered deadline
// queue: a min-heap of (deadline, task handle) pairs with a single timer
// goroutine blocking until the earliest deadline, an earlier insertion, or
// shutdown.
package timerqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"cadence/internal/clock"
	"cadence/internal/task"
)

// Entry pairs a deadline with the task it belongs to.
type Entry struct {
	Deadline time.Time
	Handle   *task.Handle
}

// Queue is a thread-safe min-heap of Entry ordered by Deadline ascending.
//
// Go's sync.Cond has no timed wait, so the "sleep until deadline or wake on
// an earlier insert" contract is modeled with a buffered wake channel
// instead: Push does a non-blocking send on wake; Wait re-peeks the heap on
// every wake, spurious or not, exactly like a CV predicate re-check loop.
type Queue struct {
	clock clock.Clock

	mu   sync.Mutex
	h    entryHeap
	wake chan struct{}

	closed bool
	done   chan struct{}
}

func New(c clock.Clock) *Queue {
	if c == nil {
		c = clock.Real{}
	}
	return &Queue{
		clock: c,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push inserts an entry and wakes the timer goroutine so it can reconsider
// the new minimum.
func (q *Queue) Push(e Entry) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	heap.Push(&q.h, e)
	q.mu.Unlock()
	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close shuts the queue down; any blocked Wait returns immediately with
// ok == false, as do all future calls.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// Wait blocks until the earliest deadline elapses and pops that entry,
// until ctx is done, or until the queue is closed. ok is false on shutdown
// or ctx cancellation; stale entries (handle no longer active) are skipped
// internally and never returned.
func (q *Queue) Wait(ctx context.Context) (Entry, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Entry{}, false
		}

		if q.h.Len() == 0 {
			q.mu.Unlock()
			if !q.sleepForWake(ctx, 0, false) {
				return Entry{}, false
			}
			continue
		}

		top := q.h[0]
		now := q.clock.Now()
		if !top.Deadline.After(now) {
			heap.Pop(&q.h)
			q.mu.Unlock()
			if !top.Handle.Active() {
				continue
			}
			return top, true
		}

		sleep := top.Deadline.Sub(now)
		q.mu.Unlock()

		if !q.sleepForWake(ctx, sleep, true) {
			return Entry{}, false
		}
		// Woken (timed out, notified, or spurious): loop and re-peek.
	}
}

// sleepForWake blocks until sleep elapses (if timed), a Push/notify arrives,
// ctx is done, or the queue closes. It returns false only on shutdown/ctx
// cancellation.
func (q *Queue) sleepForWake(ctx context.Context, sleep time.Duration, timed bool) bool {
	var timerC <-chan time.Time
	var stop func() bool
	if timed {
		timerC, stop = q.clock.NewTimer(sleep)
		defer func() {
			if stop != nil {
				stop()
			}
		}()
	}

	select {
	case <-q.done:
		return false
	case <-ctx.Done():
		return false
	case <-q.wake:
		return true
	case <-timerC:
		return true
	}
}

// Len reports the number of entries currently queued (best-effort, for
// observability/snapshots).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

type entryHeap []Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].Deadline.Before(h[j].Deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
