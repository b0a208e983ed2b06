// Package hotreload is the scheduler's external configuration producer: it
// parses a YAML/JSON task-spec file into a desired set of
// (name, type, config) entries and drives scheduler.Service's public API
// (Create/Update/Stop) to converge the live registry to that set, debouncing
// bursty file changes so a half-written file never thrashes the schedule.
package hotreload

import (
	"errors"
	"time"
)

var ErrUnknownTaskType = errors.New("hotreload: unknown task type")

// Spec is the parsed contents of a task-spec file.
type Spec struct {
	Tasks map[string]TaskSpec `json:"tasks"`
}

// TaskSpec is one entry's desired (type, config). Interval accepts either a
// plain Go duration ("50ms", "1m30s") or a cron descriptor shorthand
// ("@every 5s"), both resolved to a concrete interval by ResolveInterval.
type TaskSpec struct {
	Type string `json:"type"`

	Interval string `json:"interval"`

	SigTolerance int `json:"sigTolerance"`
	ActTolerance int `json:"actTolerance"`
	SigRepeat    int `json:"sigRepeat"`
	ActRepeat    int `json:"actRepeat"`

	AllowSignal *bool `json:"allowSignal"`
	AllowAction *bool `json:"allowAction"`
}

func (t TaskSpec) allowSignal() bool {
	return t.AllowSignal == nil || *t.AllowSignal
}

func (t TaskSpec) allowAction() bool {
	return t.AllowAction == nil || *t.AllowAction
}

// equal reports whether two specs have the same task type and the same
// fields — used to decide whether a name present in both the desired set
// and the last applied set needs an Update. Interval is compared as
// written, so "1s" and "1000ms" count as different and lead to an Update.
func (t TaskSpec) equal(o TaskSpec) bool {
	return t.Type == o.Type &&
		t.Interval == o.Interval &&
		t.SigTolerance == o.SigTolerance &&
		t.ActTolerance == o.ActTolerance &&
		t.SigRepeat == o.SigRepeat &&
		t.ActRepeat == o.ActRepeat &&
		t.allowSignal() == o.allowSignal() &&
		t.allowAction() == o.allowAction()
}

const defaultDebounce = 250 * time.Millisecond
