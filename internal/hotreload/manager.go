package hotreload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	"cadence/internal/logx"
	"cadence/internal/registry"
	"cadence/internal/scheduler"
	"cadence/internal/task"
)

// Manager watches a task-spec file and drives a scheduler.Service so its
// live registry matches the file's desired set.
type Manager struct {
	path string
	svc  *scheduler.Service
	log  logx.Logger

	factoriesMu sync.Mutex
	factories   map[string]registry.Factory

	mu       sync.Mutex
	applied  map[string]TaskSpec
	lastHash uint64

	validator func(ctx context.Context, spec *Spec) error
}

func New(path string, svc *scheduler.Service, log logx.Logger) *Manager {
	return &Manager{
		path:      path,
		svc:       svc,
		log:       log,
		factories: map[string]registry.Factory{},
		applied:   map[string]TaskSpec{},
	}
}

// RegisterType installs the factory used to construct tasks of the given
// spec type. Apply (and so LoadOnce and Watch) rejects any spec entry whose
// type has no registered factory with ErrUnknownTaskType.
func (m *Manager) RegisterType(typeName string, factory registry.Factory) {
	m.factoriesMu.Lock()
	defer m.factoriesMu.Unlock()
	m.factories[typeName] = factory
}

// SetValidator installs a hook run against a freshly parsed spec before it
// is applied. A non-nil error rejects the reload; the live configuration is
// left untouched.
func (m *Manager) SetValidator(fn func(ctx context.Context, spec *Spec) error) {
	m.validator = fn
}

// Parse reads and decodes the task-spec file. A parse failure never touches
// the currently applied configuration.
func (m *Manager) Parse() (*Spec, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("hotreload: read %s: %w", m.path, err)
	}

	jb, err := m.toJSON(b)
	if err != nil {
		return nil, fmt.Errorf("hotreload: parse %s: %w", m.path, err)
	}

	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("hotreload: decode %s: %w", m.path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("hotreload: %s: trailing data after task spec", m.path)
		}
		return nil, fmt.Errorf("hotreload: decode %s: %w", m.path, err)
	}
	if spec.Tasks == nil {
		spec.Tasks = map[string]TaskSpec{}
	}
	return &spec, nil
}

// toJSON converts data to JSON bytes so a single strict decoder
// (DisallowUnknownFields) handles both the YAML and JSON spec formats. The
// file extension decides the format when it's recognized; otherwise the
// content is sniffed, since operators sometimes hand this a path with no
// extension at all (a symlink managed by a config-deployment tool, say).
func (m *Manager) toJSON(data []byte) ([]byte, error) {
	if !looksLikeYAML(m.path, data) {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	j, err := json.Marshal(stringifyYAMLKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json: %w", err)
	}
	return j, nil
}

func looksLikeYAML(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	case ".json":
		return false
	}
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || trimmed[0] != '{'
}

// stringifyYAMLKeys recursively converts map[any]any (what go.yaml.in/yaml
// produces for non-string keys) into map[string]any so the result is
// JSON-marshalable.
func stringifyYAMLKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringifyYAMLKeys(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = stringifyYAMLKeys(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = stringifyYAMLKeys(x[i])
		}
		return x
	default:
		return in
	}
}

func (m *Manager) factoryFor(typeName string) (registry.Factory, bool) {
	m.factoriesMu.Lock()
	defer m.factoriesMu.Unlock()
	f, ok := m.factories[typeName]
	return f, ok
}

func (m *Manager) buildConfig(name string, t TaskSpec) (task.Config, error) {
	interval, err := ResolveInterval(t.Interval)
	if err != nil {
		return task.Config{}, fmt.Errorf("task %q: %w", name, err)
	}
	cfg := task.Config{
		Name:         name,
		IntervalMs:   interval.Milliseconds(),
		SigTolerance: t.SigTolerance,
		ActTolerance: t.ActTolerance,
		SigRepeat:    t.SigRepeat,
		ActRepeat:    t.ActRepeat,
		AllowSignal:  t.allowSignal(),
		AllowAction:  t.allowAction(),
	}
	if err := cfg.Validate(); err != nil {
		return task.Config{}, fmt.Errorf("task %q: %w", name, err)
	}
	return cfg, nil
}

// Apply validates every entry in spec up front — an unknown task type or an
// invalid config anywhere rejects the whole reload, leaving the scheduler's
// current registry untouched, the same way a parse failure does.
func (m *Manager) Apply(ctx context.Context, spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("apply: nil spec")
	}

	type built struct {
		cfg     task.Config
		factory registry.Factory
	}
	plans := make(map[string]built, len(spec.Tasks))
	for name, ts := range spec.Tasks {
		factory, ok := m.factoryFor(ts.Type)
		if !ok {
			return fmt.Errorf("task %q: %w %q", name, ErrUnknownTaskType, ts.Type)
		}
		cfg, err := m.buildConfig(name, ts)
		if err != nil {
			return err
		}
		plans[name] = built{cfg: cfg, factory: factory}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := diff(spec.Tasks, m.applied)

	for _, name := range p.stop {
		m.svc.Stop(name)
	}
	for _, name := range p.create {
		b := plans[name]
		if _, err := m.svc.Create(b.cfg, b.factory); err != nil && !m.log.IsZero() {
			m.log.Warn("hotreload: create failed", logx.String("task", name), logx.Err(err))
		}
	}
	for _, name := range p.update {
		b := plans[name]
		if ok, err := m.svc.Update(name, b.cfg); (!ok || err != nil) && !m.log.IsZero() {
			m.log.Warn("hotreload: update failed", logx.String("task", name), logx.Err(err))
		}
	}

	m.applied = spec.Tasks
	if !m.log.IsZero() {
		m.log.Info("hotreload: spec applied",
			logx.Int("created", len(p.create)),
			logx.Int("updated", len(p.update)),
			logx.Int("stopped", len(p.stop)),
		)
	}
	return nil
}

// LoadOnce parses the file and applies it synchronously, without starting
// the file watcher. Useful for an initial load at startup.
func (m *Manager) LoadOnce(ctx context.Context) error {
	spec, err := m.Parse()
	if err != nil {
		return err
	}
	if m.validator != nil {
		if err := m.validator(ctx, spec); err != nil {
			return err
		}
	}
	return m.Apply(ctx, spec)
}

func specHash(spec *Spec) uint64 {
	b, err := json.Marshal(spec)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// Watch parses and applies an initial load, then debounces and re-applies
// on every subsequent change to the spec file until ctx is done. fsnotify
// watchers occasionally stop delivering events; Watch self-heals by
// recreating the watcher with jittered exponential backoff, the same way
// pewbot's ConfigManager.Watch does.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		spec, err := m.Parse()
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("hotreload: parse failed, keeping current config", logx.String("path", m.path), logx.Err(err))
			}
			return
		}

		h := specHash(spec)
		m.mu.Lock()
		unchanged := h != 0 && h == m.lastHash
		m.mu.Unlock()
		if unchanged {
			return
		}

		if m.validator != nil {
			vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := m.validator(vctx, spec)
			cancel()
			if err != nil {
				if !m.log.IsZero() {
					m.log.Warn("hotreload: spec rejected by validator", logx.String("path", m.path), logx.Err(err))
				}
				return
			}
		}

		if err := m.Apply(ctx, spec); err != nil {
			if !m.log.IsZero() {
				m.log.Warn("hotreload: apply failed, keeping current config", logx.String("path", m.path), logx.Err(err))
			}
			return
		}
		m.mu.Lock()
		m.lastHash = h
		m.mu.Unlock()
	}
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(defaultDebounce, reload)
	}

	reload() // initial load

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			if !m.waitBackoff(ctx, &backoff, rng, restartBackoffMax) {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			if !m.waitBackoff(ctx, &backoff, rng, restartBackoffMax) {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err != nil && !m.log.IsZero() {
					m.log.Warn("hotreload: watch error", logx.String("dir", dir), logx.Err(err))
				}
				if err != nil && strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
					break
				}
			}
		}
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		if !m.waitBackoff(ctx, &backoff, rng, restartBackoffMax) {
			return nil
		}
	}
}

func (m *Manager) waitBackoff(ctx context.Context, backoff *time.Duration, rng *rand.Rand, max time.Duration) bool {
	wait := *backoff + time.Duration(rng.Int63n(int64(*backoff/2)+1))
	if *backoff < max {
		*backoff *= 2
		if *backoff > max {
			*backoff = max
		}
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
