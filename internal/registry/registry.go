// Package registry is the scheduler's sole durable owner of task handles:
// name -> *task.Handle, guarded by a single mutex.
package registry

import (
	"errors"
	"sync"

	"cadence/internal/logx"
	"cadence/internal/task"
)

var (
	ErrNameExists = errors.New("registry: name already exists")
	ErrNilTask    = errors.New("registry: factory returned a nil task")
)

// Factory constructs the user-supplied Task implementation for a new
// registry entry. A nil return is treated as a factory failure.
type Factory func(cfg task.Config) task.Task

// Registry maps task name to its shared Handle.
//
// The registry lock may be taken before, and never after, a timer- or
// ready-queue lock: callers must release it before acquiring either queue
// lock, so the two never nest in the opposite order and deadlock.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task.Handle
}

func New() *Registry {
	return &Registry{tasks: map[string]*task.Handle{}}
}

// Create validates cfg, rejects a name collision, and on success builds a
// new Handle via factory and inserts it. It does not schedule the handle
// into any queue; the caller (scheduler.Service) does that after Create
// returns, under its own queue locks.
func (r *Registry) Create(cfg task.Config, factory Factory, log logx.Logger) (*task.Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[cfg.Name]; exists {
		return nil, ErrNameExists
	}

	impl := factory(cfg)
	if impl == nil {
		return nil, ErrNilTask
	}

	h := task.NewHandle(impl, cfg, log)
	r.tasks[cfg.Name] = h
	return h, nil
}

// Stop marks the named task inactive and removes it from the registry.
// Queue references to it decay on their next pop. Returns false if absent.
func (r *Registry) Stop(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.tasks[name]
	if !ok {
		return false
	}
	h.Deactivate()
	delete(r.tasks, name)
	return true
}

// Update atomically replaces the named task's configuration. The new
// interval affects only the next reschedule. Returns false if absent or if
// cfg fails validation.
func (r *Registry) Update(name string, cfg task.Config) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	h, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	h.SetConfig(cfg)
	return true, nil
}

// Lookup returns the named task's handle, or nil if absent.
func (r *Registry) Lookup(name string) *task.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[name]
}

// Count returns the number of currently registered tasks.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Clear drops every entry (used on scheduler shutdown). It does not
// deactivate any handle.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = map[string]*task.Handle{}
}

// Names returns a snapshot of all currently registered task names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		names = append(names, n)
	}
	return names
}
