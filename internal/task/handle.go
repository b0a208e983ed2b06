package task

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"cadence/internal/logx"
)

// Handle is the scheduler's identity/liveness wrapper around a user Task. It
// is the unit shared between the registry, the timer queue, and the ready
// queue — all three hold the same *Handle, never a copy.
type Handle struct {
	name string
	impl Task

	active atomic.Bool

	cfgMu sync.Mutex
	cfg   Config

	// Per-cycle-only state. The scheduler guarantees Cycle is never called
	// concurrently with itself for the same Handle, so these need no lock.
	sig channelState
	act channelState

	log logx.Logger
}

// NewHandle constructs a Handle in the active state with the given initial
// configuration. cfg must already be validated by the caller (the registry
// boundary).
func NewHandle(impl Task, cfg Config, log logx.Logger) *Handle {
	h := &Handle{
		name: cfg.Name,
		impl: impl,
		cfg:  cfg,
		log:  log,
	}
	h.active.Store(true)
	return h
}

func (h *Handle) Name() string { return h.name }

// Active reports whether the task is still live. A false value means the
// handle has been lazily deleted: it may still be observed in a queue, but
// must not be executed or rescheduled.
func (h *Handle) Active() bool { return h.active.Load() }

// Deactivate marks the task inactive. Called by the registry on Stop.
func (h *Handle) Deactivate() { h.active.Store(false) }

// Config returns a copy of the task's current configuration.
func (h *Handle) Config() Config {
	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()
	return h.cfg
}

// SetConfig atomically replaces the task's configuration. A cycle already in
// flight keeps using the snapshot it took; the next cycle observes cfg.
func (h *Handle) SetConfig(cfg Config) {
	h.cfgMu.Lock()
	h.cfg = cfg
	h.cfgMu.Unlock()
}

// Cycle runs the fixed five-step sequence: liveness check, config snapshot,
// plan, signal-channel transition, action-channel transition. It returns the
// config snapshot used for this cycle (callers reschedule off it) and
// whether the task is still active once the cycle completed.
//
// Panics from Plan, Signal, or Act are recovered at this boundary, logged,
// and do not propagate: the task remains active and is rescheduled normally.
func (h *Handle) Cycle() (snapshot Config, stillActive bool) {
	if !h.Active() {
		return Config{}, false
	}

	cfg := h.Config()

	wantSignal, wantAct := h.plan(cfg)

	h.runChannel(&h.sig, wantSignal, cfg.SigTolerance, cfg.SigRepeat, cfg.AllowSignal, h.impl.Signal, "signal")
	h.runChannel(&h.act, wantAct, cfg.ActTolerance, cfg.ActRepeat, cfg.AllowAction, h.impl.Act, "act")

	return cfg, h.Active()
}

func (h *Handle) plan(cfg Config) (wantSignal, wantAct bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logPanic("plan", r)
			wantSignal, wantAct = false, false
		}
	}()
	return h.impl.Plan()
}

func (h *Handle) runChannel(cs *channelState, want bool, tolerance, repeat int, gateOpen bool, callback func(bool), label string) {
	fire, active := cs.transition(want, tolerance, repeat, gateOpen)
	if !fire {
		return
	}
	h.invoke(callback, active, label)
}

func (h *Handle) invoke(callback func(bool), active bool, label string) {
	defer func() {
		if r := recover(); r != nil {
			h.logPanic(label, r)
		}
	}()
	callback(active)
}

func (h *Handle) logPanic(where string, r any) {
	err := fmt.Errorf("panic in task %q (%s): %v", h.name, where, r)
	if !h.log.IsZero() {
		h.log.Error("task.panic",
			logx.String("task", h.name),
			logx.String("where", where),
			logx.Any("panic", r),
			logx.String("stack", string(debug.Stack())),
			logx.Err(err),
		)
	}
}
