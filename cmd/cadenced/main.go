package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cadence/internal/clock"
	"cadence/internal/eventbus"
	"cadence/internal/hotreload"
	"cadence/internal/logx"
	"cadence/internal/scheduler"
	"cadence/internal/task"
)

func main() {
	var (
		specPath string
		logLevel string
		logFile  string
		workers  int
		watch    bool
	)
	flag.StringVar(&specPath, "spec", "./tasks.yaml", "path to the task-spec file")
	flag.StringVar(&logLevel, "log-level", "info", "log level: trace|debug|info|warn|error")
	flag.StringVar(&logFile, "log-file", "", "optional path to a JSON log file")
	flag.IntVar(&workers, "workers", 4, "number of worker goroutines")
	flag.BoolVar(&watch, "watch", true, "watch the spec file for changes and hot-reload")
	flag.Parse()

	log, closer := logx.New(logx.Config{
		Level:   logLevel,
		Console: true,
		File: logx.FileConfig{
			Enabled: logFile != "",
			Path:    logFile,
		},
	})
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := eventbus.New()
	svc := scheduler.New(scheduler.Config{Workers: workers}, clock.Real{}, log.With(logx.String("comp", "scheduler")), bus)

	logEvents(ctx, bus, log)

	svc.Start(ctx)

	mgr := hotreload.New(specPath, svc, log.With(logx.String("comp", "hotreload")))
	registerBuiltinTypes(mgr)

	if watch {
		go func() {
			if err := mgr.Watch(ctx); err != nil {
				log.Error("hotreload watch exited", logx.Err(err))
			}
		}()
	} else if err := mgr.LoadOnce(ctx); err != nil {
		log.Error("initial spec load failed", logx.Err(err))
		os.Exit(1)
	}

	log.Info("cadenced running", logx.String("spec", specPath), logx.Int("workers", workers))

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown error:", err)
	}
}

// logEvents subscribes to the scheduler's event bus and logs task lifecycle
// transitions at debug level, purely as an operability aid — nothing in the
// scheduler itself depends on there being a subscriber.
func logEvents(ctx context.Context, bus eventbus.Bus, log logx.Logger) {
	ch, unsubscribe := bus.Subscribe(64)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				log.Debug(string(ev.Kind),
					logx.String("task", ev.TaskName),
					logx.Bool("active", ev.Active),
					logx.String("channel", ev.Channel),
				)
			}
		}
	}()
}

// registerBuiltinTypes wires the task types this binary knows how to
// construct. A real deployment would register domain-specific types here;
// heartbeat is the one illustrative example shipped with the daemon.
func registerBuiltinTypes(mgr *hotreload.Manager) {
	mgr.RegisterType("heartbeat", func(cfg task.Config) task.Task {
		return newHeartbeatTask(cfg.Name)
	})
}
