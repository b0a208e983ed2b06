package scheduler

// Config tunes the scheduler's composition: worker pool size and
// operational warning throttling.
type Config struct {
	// Workers is the number of worker goroutines draining the ready queue.
	Workers int

	// WarnRatePerSec throttles repeated stale-reference/enqueue-failure log
	// warnings, the same way pewbot's logx rate limiter throttles Telegram
	// log delivery.
	WarnRatePerSec float64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.WarnRatePerSec <= 0 {
		c.WarnRatePerSec = 1
	}
	return c
}
