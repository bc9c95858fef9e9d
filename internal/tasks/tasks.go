// Package tasks runs background jobs that emit typed progress events on a
// channel, decoupling job logic from whoever observes it. Jobs observe
// cancellation between units of work; a failed unit is reported and the job
// moves on.
package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/embygate/emby-gate/internal/logging"
)

type EventKind int

const (
	EventStarted EventKind = iota
	EventUnitDone
	EventUnitFailed
	EventCompleted
)

// Event is one progress notification from a running task.
type Event struct {
	Task string
	Kind EventKind
	Unit string
	Err  error
}

// Task is a unit-structured background job.
type Task interface {
	Name() string
	// Run executes the job, calling emit after each unit. Returning an
	// error marks the whole run failed; unit failures should be emitted
	// and swallowed instead.
	Run(ctx context.Context, emit func(Event)) error
}

// Runner executes tasks and fans their events into one channel.
type Runner struct {
	events chan Event
	log    zerolog.Logger
}

func NewRunner(buffer int) *Runner {
	return &Runner{
		events: make(chan Event, buffer),
		log:    logging.Component("tasks"),
	}
}

// Events is the observer side. Exactly one consumer should drain it.
func (r *Runner) Events() <-chan Event { return r.events }

func (r *Runner) emit(e Event) {
	select {
	case r.events <- e:
	default:
		// A stalled observer must not block the job.
	}
}

// RunOnce executes the task once, bracketed by Started/Completed events.
func (r *Runner) RunOnce(ctx context.Context, t Task) error {
	r.emit(Event{Task: t.Name(), Kind: EventStarted})
	err := t.Run(ctx, r.emit)
	r.emit(Event{Task: t.Name(), Kind: EventCompleted, Err: err})
	return err
}

// RunEvery executes the task on a fixed interval until ctx is cancelled.
// Run failures are logged; the schedule continues.
func (r *Runner) RunEvery(ctx context.Context, t Task, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := r.RunOnce(ctx, t); err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Str("task", t.Name()).Msg("task run failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ObserveWithLog drains events into the structured log until the channel
// closes or ctx is cancelled. Intended to run in its own goroutine.
func (r *Runner) ObserveWithLog(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-r.events:
			if !ok {
				return
			}
			ev := r.log.Debug()
			if e.Kind == EventUnitFailed || (e.Kind == EventCompleted && e.Err != nil) {
				ev = r.log.Warn()
			}
			ev.Str("task", e.Task).Str("unit", e.Unit).Int("kind", int(e.Kind)).Err(e.Err).Msg("task event")
		}
	}
}
