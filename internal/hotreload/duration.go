package hotreload

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ResolveInterval accepts either a plain Go duration ("50ms") or a cron
// descriptor shorthand ("@every 5s") and returns the concrete interval.
func ResolveInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("interval: empty")
	}

	if strings.HasPrefix(s, "@") {
		sched, err := cron.NewParser(cron.Descriptor).Parse(s)
		if err != nil {
			return 0, fmt.Errorf("interval %q: %w", s, err)
		}
		cd, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return 0, fmt.Errorf("interval %q: only \"@every <duration>\" is supported, not calendar schedules", s)
		}
		return cd.Delay, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("interval %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q: must be positive", s)
	}
	return d, nil
}
