package scheduler

import (
	"cadence/internal/eventbus"
	"cadence/internal/task"
)

// observedTask decorates a user Task so every Signal/Act transition is
// published on the event bus, without task.Handle needing to know the bus
// exists. A panic is republished as eventbus.KindPanicked and then
// re-raised so Handle's own panic boundary still logs and recovers it.
type observedTask struct {
	name string
	bus  eventbus.Bus
	task.Task
}

func (o observedTask) Signal(active bool) {
	defer o.publishOnPanic("signal")
	o.Task.Signal(active)
	o.publish(eventbus.KindSignaled, active)
}

func (o observedTask) Act(active bool) {
	defer o.publishOnPanic("act")
	o.Task.Act(active)
	o.publish(eventbus.KindActed, active)
}

func (o observedTask) publish(kind eventbus.Kind, active bool) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.TaskEvent{Kind: kind, TaskName: o.name, Active: active})
}

func (o observedTask) publishOnPanic(channel string) {
	if r := recover(); r != nil {
		if o.bus != nil {
			o.bus.Publish(eventbus.TaskEvent{
				Kind:     eventbus.KindPanicked,
				TaskName: o.name,
				Channel:  channel,
				Panic:    r,
			})
		}
		panic(r)
	}
}
