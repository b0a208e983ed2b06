package scheduler

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"cadence/internal/clock"
	"cadence/internal/logx"
	"cadence/internal/registry"
	"cadence/internal/task"
)

// pulseTask drives a signal channel scenario under test (sigWant) while its
// action channel is configured to heartbeat every single cycle
// (ActTolerance=0, ActRepeat=1, wantAct always true). Act is used purely as
// a deterministic "this cycle has finished" synchronization pulse — Signal
// runs first within the same Cycle() call, so by the time a pulse arrives
// the signal channel's outcome for that cycle has already been recorded.
type pulseTask struct {
	mu       sync.Mutex
	sigWant  []bool
	i        int
	sigCalls []bool

	pulse chan struct{}
}

func newPulseTask(sigWant []bool) *pulseTask {
	return &pulseTask{sigWant: sigWant, pulse: make(chan struct{})}
}

func (p *pulseTask) Plan() (bool, bool) {
	p.mu.Lock()
	ws := false
	if p.i < len(p.sigWant) {
		ws = p.sigWant[p.i]
	}
	p.i++
	p.mu.Unlock()
	return ws, true
}

func (p *pulseTask) Signal(active bool) {
	p.mu.Lock()
	p.sigCalls = append(p.sigCalls, active)
	p.mu.Unlock()
}

func (p *pulseTask) Act(active bool) {
	p.pulse <- struct{}{}
}

func (p *pulseTask) signalCallCount(want bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.sigCalls {
		if c == want {
			n++
		}
	}
	return n
}

func boolsAll(n int, v bool) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func pulseCfg(name string, intervalMs int64, sigTolerance int) task.Config {
	return task.Config{
		Name:         name,
		IntervalMs:   intervalMs,
		SigTolerance: sigTolerance,
		ActTolerance: 0,
		ActRepeat:    1,
		AllowSignal:  true,
		AllowAction:  true,
	}
}

func waitPulse(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a cycle pulse")
	}
}

func assertNoPulse(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("got an unexpected cycle pulse")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerRunsDebounceThroughFullPipeline(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	svc := New(Config{Workers: 2}, fc, logx.Nop(), nil)
	svc.Start(context.Background())
	defer svc.Shutdown(context.Background())

	impl := newPulseTask(boolsAll(10, true))
	const interval = 50 * time.Millisecond
	_, err := svc.Create(pulseCfg("debounce", interval.Milliseconds(), 3), func(task.Config) task.Task { return impl })
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		fc.Advance(interval)
		waitPulse(t, impl.pulse)
	}

	if got := impl.signalCallCount(true); got != 1 {
		t.Fatalf("signal(true) called %d times after 5 cycles with tolerance 3, want 1", got)
	}
}

// S5: lazy deletion.
func TestLazyDeletionStopsFutureCycles(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	svc := New(Config{Workers: 2}, fc, logx.Nop(), nil)
	svc.Start(context.Background())
	defer svc.Shutdown(context.Background())

	impl := newPulseTask(boolsAll(100, false))
	const interval = 50 * time.Millisecond
	_, err := svc.Create(pulseCfg("lazy", interval.Milliseconds(), 10), func(task.Config) task.Task { return impl })
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		fc.Advance(interval)
		waitPulse(t, impl.pulse)
	}

	if ok := svc.Stop("lazy"); !ok {
		t.Fatalf("Stop returned false for a live task")
	}
	if got := svc.Count(); got != 0 {
		t.Fatalf("Count() = %d immediately after Stop, want 0", got)
	}

	// The task's final reschedule (from the cycle that just completed)
	// may still be sitting in the timer queue; one more deadline may fire
	// and be silently dropped, but no pulse should ever arrive again.
	for i := 0; i < 3; i++ {
		fc.Advance(interval)
	}
	assertNoPulse(t, impl.pulse)
}

// S6: a task's liveness does not depend on the caller retaining its handle.
func TestTaskSurvivesWithoutExternalReference(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	svc := New(Config{Workers: 2}, fc, logx.Nop(), nil)
	svc.Start(context.Background())
	defer svc.Shutdown(context.Background())

	impl := newPulseTask(boolsAll(100, false))
	const interval = 50 * time.Millisecond
	func() {
		_, err := svc.Create(pulseCfg("scoped", interval.Milliseconds(), 5), func(task.Config) task.Task { return impl })
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		// The returned handle is intentionally discarded here; the
		// registry and the queues are the only holders.
	}()

	runtime.GC()

	if h := svc.Lookup("scoped"); h == nil {
		t.Fatalf("task disappeared after dropping the caller's local reference")
	}

	fc.Advance(interval)
	waitPulse(t, impl.pulse)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	svc := New(Config{Workers: 1}, fc, logx.Nop(), nil)
	svc.Start(context.Background())
	defer svc.Shutdown(context.Background())

	factory := func(task.Config) task.Task { return newPulseTask(nil) }
	cfg := pulseCfg("dup", 100, 1)
	if _, err := svc.Create(cfg, factory); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := svc.Create(cfg, factory); err != registry.ErrNameExists {
		t.Fatalf("err = %v, want ErrNameExists", err)
	}
}

func TestCreateAfterShutdownFails(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	svc := New(Config{Workers: 1}, fc, logx.Nop(), nil)
	svc.Start(context.Background())
	svc.Shutdown(context.Background())

	_, err := svc.Create(pulseCfg("late", 100, 1), func(task.Config) task.Task { return newPulseTask(nil) })
	if err != ErrShutdown {
		t.Fatalf("err = %v, want ErrShutdown", err)
	}
}

// Law 5: shutdown is idempotent.
func TestShutdownTwiceIsIdempotent(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	svc := New(Config{Workers: 1}, fc, logx.Nop(), nil)
	svc.Start(context.Background())

	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestUpdateReplacesTaskConfig(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	svc := New(Config{Workers: 1}, fc, logx.Nop(), nil)
	svc.Start(context.Background())
	defer svc.Shutdown(context.Background())

	h, err := svc.Create(pulseCfg("update", 50, 1), func(task.Config) task.Task { return newPulseTask(nil) })
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	newCfg := h.Config()
	newCfg.IntervalMs = 250
	ok, err := svc.Update("update", newCfg)
	if err != nil || !ok {
		t.Fatalf("Update failed: ok=%v err=%v", ok, err)
	}
	if h.Config().IntervalMs != 250 {
		t.Fatalf("IntervalMs = %d, want 250", h.Config().IntervalMs)
	}
}
