package task

import (
	"testing"

	"cadence/internal/logx"
)

type scripted struct {
	wantSignal []bool
	wantAct    []bool
	i          int

	sigCalls []bool
	actCalls []bool
}

func (s *scripted) Plan() (bool, bool) {
	ws, wa := false, false
	if s.i < len(s.wantSignal) {
		ws = s.wantSignal[s.i]
	}
	if s.i < len(s.wantAct) {
		wa = s.wantAct[s.i]
	}
	s.i++
	return ws, wa
}

func (s *scripted) Signal(active bool) { s.sigCalls = append(s.sigCalls, active) }
func (s *scripted) Act(active bool)    { s.actCalls = append(s.actCalls, active) }

func boolsAll(n int, v bool) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func countTrue(calls []bool, want bool) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}

func baseCfg() Config {
	return Config{
		Name:        "t",
		IntervalMs:  50,
		AllowSignal: true,
		AllowAction: true,
	}
}

// S1: debounce activation.
func TestCycleDebounceActivation(t *testing.T) {
	impl := &scripted{wantSignal: boolsAll(100, true)}
	cfg := baseCfg()
	cfg.SigTolerance = 10
	h := NewHandle(impl, cfg, logx.Nop())

	for i := 0; i < 10; i++ {
		h.Cycle()
	}
	if got := countTrue(impl.sigCalls, true); got != 1 {
		t.Fatalf("after 10 cycles: signal(true) called %d times, want 1", got)
	}

	for i := 0; i < 90; i++ {
		h.Cycle()
	}
	if got := countTrue(impl.sigCalls, true); got != 1 {
		t.Fatalf("after 100 cycles: signal(true) called %d times, want 1", got)
	}
}

// S2: noise rejection.
func TestCycleNoiseRejection(t *testing.T) {
	wants := append(boolsAll(3, true), false)
	wants = append(wants, boolsAll(10, true)...)
	impl := &scripted{wantSignal: wants}
	cfg := baseCfg()
	cfg.SigTolerance = 10
	h := NewHandle(impl, cfg, logx.Nop())

	for i := 0; i < 9; i++ {
		h.Cycle()
	}
	if got := countTrue(impl.sigCalls, true); got != 0 {
		t.Fatalf("at cycle 9: signal(true) called %d times, want 0", got)
	}

	for i := 9; i < 14; i++ {
		h.Cycle()
	}
	if got := countTrue(impl.sigCalls, true); got != 1 {
		t.Fatalf("at cycle 14: signal(true) called %d times, want 1", got)
	}
}

// S3: heartbeat.
func TestCycleHeartbeat(t *testing.T) {
	impl := &scripted{wantSignal: boolsAll(30, true)}
	cfg := baseCfg()
	cfg.SigTolerance = 10
	cfg.SigRepeat = 5
	h := NewHandle(impl, cfg, logx.Nop())

	for i := 0; i < 25; i++ {
		h.Cycle()
	}

	if got := countTrue(impl.sigCalls, true); got != 4 {
		t.Fatalf("signal(true) called %d times through cycle 25, want 4 (cycles 10,15,20,25)", got)
	}
	if got := countTrue(impl.sigCalls, false); got != 0 {
		t.Fatalf("signal(false) called %d times, want 0", got)
	}
}

// S4: gate withdrawal.
func TestCycleGateWithdrawal(t *testing.T) {
	impl := &scripted{wantSignal: boolsAll(30, true)}
	cfg := baseCfg()
	cfg.SigTolerance = 10
	cfg.SigRepeat = 5
	h := NewHandle(impl, cfg, logx.Nop())

	for i := 0; i < 12; i++ {
		h.Cycle()
	}
	if !h.sig.isActive {
		t.Fatalf("expected signal channel active after 12 cycles")
	}

	cfg2 := h.Config()
	cfg2.AllowSignal = false
	h.SetConfig(cfg2)

	h.Cycle() // cycle 13
	if h.sig.isActive {
		t.Fatalf("expected signal channel inactive after gate closed")
	}
	if h.sig.counter != 0 {
		t.Fatalf("expected sigCounter == 0 after withdrawal, got %d", h.sig.counter)
	}
	if got := countTrue(impl.sigCalls, false); got != 1 {
		t.Fatalf("signal(false) called %d times, want exactly 1", got)
	}
}

// Invariant 1: wantSignal == false at cycle k implies sigCounter == 0 at end of cycle k.
func TestInvariantFalseIntentResetsCounter(t *testing.T) {
	impl := &scripted{wantSignal: []bool{true, true, false}}
	cfg := baseCfg()
	cfg.SigTolerance = 10
	h := NewHandle(impl, cfg, logx.Nop())

	for i := 0; i < 3; i++ {
		h.Cycle()
	}
	if h.sig.counter != 0 {
		t.Fatalf("sigCounter = %d, want 0 after a false intent", h.sig.counter)
	}
}

// Invariant 12: closing the gate before activation prevents activation indefinitely.
func TestInvariantGateClosedBeforeActivationNeverFires(t *testing.T) {
	impl := &scripted{wantSignal: boolsAll(50, true)}
	cfg := baseCfg()
	cfg.SigTolerance = 10
	cfg.AllowSignal = false
	h := NewHandle(impl, cfg, logx.Nop())

	for i := 0; i < 50; i++ {
		h.Cycle()
	}
	if len(impl.sigCalls) != 0 {
		t.Fatalf("expected no signal callbacks while gate closed, got %v", impl.sigCalls)
	}
	if h.sig.counter < 10 {
		t.Fatalf("expected counter to keep climbing even though gate is closed, got %d", h.sig.counter)
	}
}

func TestCycleOnInactiveHandleIsNoop(t *testing.T) {
	impl := &scripted{wantSignal: boolsAll(5, true)}
	cfg := baseCfg()
	cfg.SigTolerance = 1
	h := NewHandle(impl, cfg, logx.Nop())
	h.Deactivate()

	snapshot, active := h.Cycle()
	if active {
		t.Fatalf("expected Cycle to report inactive")
	}
	if snapshot != (Config{}) {
		t.Fatalf("expected zero-value snapshot on inactive Cycle, got %+v", snapshot)
	}
	if len(impl.sigCalls) != 0 {
		t.Fatalf("expected no callbacks on an inactive task")
	}
}

func TestCyclePanicInCallbackIsRecovered(t *testing.T) {
	impl := &panicky{}
	cfg := baseCfg()
	cfg.SigTolerance = 0
	h := NewHandle(impl, cfg, logx.Nop())

	snapshot, active := h.Cycle()
	if !active {
		t.Fatalf("a panicking callback must not deactivate the task")
	}
	if snapshot.Name != "t" {
		t.Fatalf("expected a real snapshot even though the callback panicked")
	}

	// The task must still be cycle-able afterwards.
	h.Cycle()
}

type panicky struct{}

func (panicky) Plan() (bool, bool)  { return true, false }
func (panicky) Signal(active bool)  { panic("boom") }
func (panicky) Act(active bool)     {}
