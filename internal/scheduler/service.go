// Package scheduler composes the clock, timer queue, ready queue, and
// registry into the periodic task scheduler: one timer goroutine feeding
// N worker goroutines, all supervised with panic recovery and auto-restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"cadence/internal/clock"
	"cadence/internal/eventbus"
	"cadence/internal/logx"
	"cadence/internal/readyqueue"
	"cadence/internal/registry"
	"cadence/internal/runtime/supervisor"
	"cadence/internal/task"
	"cadence/internal/timerqueue"
)

// ErrShutdown is returned by Create when the service is not running: before
// Start, or once Shutdown has started. Stop, Update and Lookup report a
// stopped service as false/nil instead, since Shutdown clears the registry.
var ErrShutdown = errors.New("scheduler: shut down")

// Service is the composition root: the one object cmd/cadenced wires up.
type Service struct {
	cfg   Config
	clock clock.Clock
	log   logx.Logger
	bus   eventbus.Bus

	registry *registry.Registry
	timerQ   *timerqueue.Queue
	readyQ   *readyqueue.Queue

	running atomic.Bool

	startMu  sync.Mutex
	sup      *supervisor.Supervisor
	stopOnce sync.Once

	warnLimiter *rate.Limiter
}

// New builds a Service. It does not start any goroutines; call Start.
func New(cfg Config, c clock.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if c == nil {
		c = clock.Real{}
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{
		cfg:         cfg,
		clock:       c,
		log:         log,
		bus:         bus,
		registry:    registry.New(),
		timerQ:      timerqueue.New(c),
		readyQ:      readyqueue.New(),
		warnLimiter: rate.NewLimiter(rate.Limit(cfg.WarnRatePerSec), 1),
	}
}

// Start spawns the timer goroutine and the worker pool under a supervisor.
// Start is idempotent: calling it while already running is a no-op.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.running.Load() {
		return
	}

	s.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "scheduler"))),
		supervisor.WithCancelOnError(false),
	)
	s.running.Store(true)

	s.sup.GoRestart("timer", s.runTimer, supervisor.WithPublishFirstError(true))
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		s.sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(ctx context.Context) error {
			return s.runWorker(ctx, idx)
		}, supervisor.WithPublishFirstError(true))
	}

	s.log.Info("scheduler started", logx.Int("workers", s.cfg.Workers))
}

// Create validates cfg, constructs the task via factory, registers it, and
// schedules its first cycle at now+interval. It returns ErrShutdown once
// Shutdown has started.
func (s *Service) Create(cfg task.Config, factory registry.Factory) (*task.Handle, error) {
	if !s.running.Load() {
		return nil, ErrShutdown
	}

	wrapped := func(c task.Config) task.Task {
		impl := factory(c)
		if impl == nil {
			return nil
		}
		return observedTask{name: c.Name, bus: s.bus, Task: impl}
	}

	h, err := s.registry.Create(cfg, wrapped, s.log)
	if err != nil {
		return nil, err
	}

	s.timerQ.Push(timerqueue.Entry{Deadline: s.clock.Now().Add(cfg.Interval()), Handle: h})
	return h, nil
}

// Stop marks the named task inactive and removes it from the registry.
func (s *Service) Stop(name string) bool {
	return s.registry.Stop(name)
}

// Update atomically replaces the named task's configuration.
func (s *Service) Update(name string, cfg task.Config) (bool, error) {
	return s.registry.Update(name, cfg)
}

// Lookup returns the named task's handle, or nil if absent.
func (s *Service) Lookup(name string) *task.Handle {
	return s.registry.Lookup(name)
}

// Count returns the number of currently registered tasks.
func (s *Service) Count() int {
	return s.registry.Count()
}

// Shutdown idempotently stops the timer and worker goroutines, waits for
// them to exit, and clears the registry. Calling it twice is equivalent to
// once.
func (s *Service) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var waitErr error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.timerQ.Close()
		s.readyQ.Close()

		s.startMu.Lock()
		sup := s.sup
		s.startMu.Unlock()

		if sup != nil {
			sup.Cancel()
			waitErr = sup.Wait(ctx)
		}
		s.registry.Clear()
		s.log.Info("scheduler stopped")
	})
	return waitErr
}

func (s *Service) runTimer(ctx context.Context) error {
	for {
		entry, ok := s.timerQ.Wait(ctx)
		if !ok {
			return nil
		}
		s.readyQ.Push(entry.Handle)
	}
}

func (s *Service) runWorker(ctx context.Context, idx int) error {
	for {
		h, ok := s.readyQ.Pop(ctx)
		if !ok {
			return nil
		}
		if !h.Active() {
			continue
		}

		cfg, stillActive := h.Cycle()
		if !stillActive {
			s.warnOnce("task deactivated during cycle, dropping", h.Name())
			continue
		}

		deadline := s.clock.Now().Add(cfg.Interval())
		s.timerQ.Push(timerqueue.Entry{Deadline: deadline, Handle: h})
	}
}

func (s *Service) warnOnce(msg, name string) {
	if s.log.IsZero() {
		return
	}
	if s.warnLimiter != nil && !s.warnLimiter.Allow() {
		return
	}
	s.log.Warn(msg, logx.String("task", name))
}
