package scheduler

// Snapshot is a best-effort operational view of the scheduler, analogous to
// pewbot's engine.Snapshot but scoped to what this scheduler tracks: queue
// depths, goroutine counters, and task count.
type Snapshot struct {
	Running       bool
	Workers       int
	TaskCount     int
	TimerQueueLen int
	ReadyQueueLen int

	GoroutinesActive  int64
	GoroutinesStarted uint64
}

// Snapshot returns a point-in-time operational view of the scheduler.
func (s *Service) Snapshot() Snapshot {
	s.startMu.Lock()
	sup := s.sup
	s.startMu.Unlock()

	snap := Snapshot{
		Running:       s.running.Load(),
		Workers:       s.cfg.Workers,
		TaskCount:     s.registry.Count(),
		TimerQueueLen: s.timerQ.Len(),
		ReadyQueueLen: s.readyQ.Len(),
	}
	if sup != nil {
		c := sup.Counters()
		snap.GoroutinesActive = c.Active
		snap.GoroutinesStarted = c.Started
	}
	return snap
}
