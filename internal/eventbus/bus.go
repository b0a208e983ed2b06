// Package eventbus is the scheduler's in-memory task-lifecycle feed: an
// observedTask (internal/scheduler/eventing.go) publishes a TaskEvent every
// time a task's signal or action channel fires or panics, and anything that
// cares — a log sink, a metrics exporter, a future CLI "tail" command — can
// Subscribe without the scheduler knowing it's being watched.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which task-lifecycle transition produced a TaskEvent.
type Kind string

const (
	KindSignaled Kind = "task.signaled"
	KindActed    Kind = "task.acted"
	KindPanicked Kind = "task.panicked"
)

// TaskEvent is one observed transition on a task's signal or action
// channel. CorrelationID is fresh per transition so a subscriber can tell
// two back-to-back firings of the same task apart even when everything else
// about them is identical.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type TaskEvent struct {
	CorrelationID uuid.UUID
	Kind          Kind
	Time          time.Time
	TaskName      string
	Active        bool
	Channel       string // "signal" or "act"; set only on KindPanicked
	Panic         any    // set only on KindPanicked
}

type Bus interface {
	Publish(e TaskEvent)
	Subscribe(buffer int) (ch <-chan TaskEvent, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan TaskEvent{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan TaskEvent
	seq  atomic.Uint64
}

func (b *memBus) Publish(e TaskEvent) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.CorrelationID == uuid.Nil {
		e.CorrelationID = uuid.New()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan TaskEvent, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan TaskEvent, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan TaskEvent, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
