package main

import (
	"log"
	"sync/atomic"

	"cadence/internal/task"
)

// heartbeatTask is the daemon's one built-in, illustrative task type: it
// always wants both channels active, so Signal/Act fire once the configured
// tolerance is reached and then every repeat cycles (only once when repeat
// is 0). It exists to give the binary
// something runnable out of the box, not as a stand-in for a real workload.
type heartbeatTask struct {
	name  string
	beats atomic.Int64
}

func newHeartbeatTask(name string) *heartbeatTask {
	return &heartbeatTask{name: name}
}

func (h *heartbeatTask) Plan() (wantSignal, wantAct bool) {
	return true, true
}

func (h *heartbeatTask) Signal(active bool) {
	if active {
		h.beats.Add(1)
	}
}

func (h *heartbeatTask) Act(active bool) {
	if active {
		log.Printf("heartbeat %q: beat %d", h.name, h.beats.Load())
	}
}

var _ task.Task = (*heartbeatTask)(nil)
