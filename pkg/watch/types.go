// Package watch ties the pipeline together: filesystem events are
// filtered and debounced, every accepted change kills the run in flight,
// and one new run is started per settled burst.
//
// All watch state lives on a single control goroutine per session.
// Filesystem events, debounce timer fires and supervisor callbacks are all
// funnelled onto it, so decisions about which run is current never race.
// Observers are called on that goroutine and must not block for long or
// call Stop synchronously.
package watch

import (
	"time"

	"github.com/0xmhha/dose/pkg/debounce"
	"github.com/0xmhha/dose/pkg/runner"
	"github.com/0xmhha/dose/pkg/supervisor"
	"github.com/0xmhha/dose/pkg/watcher"
)

// Config holds the controller tuning. The zero value is usable: a zero
// Debounce coalesces only what is queued at the same loop turn.
type Config struct {
	// Debounce is the quiet window after the last accepted event.
	Debounce time.Duration

	// LeadingEdge starts a run on the first accepted event after a quiet
	// window. Off by default, so a burst yields exactly one run.
	LeadingEdge bool

	// PreSpawnDelay and KillDelay are passed to every run.
	PreSpawnDelay time.Duration
	KillDelay     time.Duration

	// Runner configures process spawning. Env from the request's env file
	// is appended to Runner.Env.
	Runner runner.Config

	// Watcher configures the filesystem subscription. It is always recursive.
	Watcher watcher.Config
}

// Deps are the collaborators of a controller. Nil fields get defaults.
type Deps struct {
	// Observer receives run notifications.
	Observer Observer

	// NewWatcher opens a filesystem subscription. Defaults to watcher.New.
	NewWatcher func(cfg watcher.Config) (watcher.Watcher, error)

	// NewSpawner builds the process spawner of a session. Defaults to a
	// runner.Runner.
	NewSpawner func(cfg runner.Config) supervisor.Spawner
}

// RunInfo describes one run for observers.
type RunInfo struct {
	// ID is unique per run.
	ID string

	// Seq numbers the runs of a session from 1.
	Seq int

	Command string
	Dir     string

	// Trigger is what caused the run.
	Trigger debounce.Trigger

	// StartedAt is set when the process is about to be spawned.
	StartedAt time.Time

	// ExitCode and Duration are set once the process ended.
	ExitCode int
	Duration time.Duration

	// Spawned is false for runs cancelled before a process existed.
	Spawned bool

	// Killed is true for runs stopped or superseded before their outcome
	// was reported.
	Killed bool
}

// FirstCall reports whether the run is the startup run of a session.
func (i RunInfo) FirstCall() bool {
	return i.Trigger.Synthetic
}

// Observer receives the state transitions of a watch session.
type Observer interface {
	// OnWaiting is called when a run is about to spawn its process.
	OnWaiting(info RunInfo)

	// OnSuccess is called when the current run exited with code 0.
	OnSuccess(info RunInfo)

	// OnFailure is called when the current run exited with a non-zero code.
	OnFailure(info RunInfo)

	// OnAborted is called after watching was force-stopped by an
	// internal error.
	OnAborted(err error)
}

// KillObserver is implemented by observers that want to hear about runs
// that were announced with OnWaiting but killed before completing.
type KillObserver interface {
	OnKilled(info RunInfo)
}

// Observers fans notifications out to several observers in order.
type Observers []Observer

// OnWaiting implements Observer.OnWaiting.
func (o Observers) OnWaiting(info RunInfo) {
	for _, ob := range o {
		ob.OnWaiting(info)
	}
}

// OnSuccess implements Observer.OnSuccess.
func (o Observers) OnSuccess(info RunInfo) {
	for _, ob := range o {
		ob.OnSuccess(info)
	}
}

// OnFailure implements Observer.OnFailure.
func (o Observers) OnFailure(info RunInfo) {
	for _, ob := range o {
		ob.OnFailure(info)
	}
}

// OnAborted implements Observer.OnAborted.
func (o Observers) OnAborted(err error) {
	for _, ob := range o {
		ob.OnAborted(err)
	}
}

// OnKilled implements KillObserver.OnKilled for the members that support it.
func (o Observers) OnKilled(info RunInfo) {
	for _, ob := range o {
		if k, ok := ob.(KillObserver); ok {
			k.OnKilled(info)
		}
	}
}

// ObserverFuncs adapts plain functions to Observer and KillObserver.
// Nil fields are skipped.
type ObserverFuncs struct {
	Waiting func(RunInfo)
	Success func(RunInfo)
	Failure func(RunInfo)
	Killed  func(RunInfo)
	Aborted func(error)
}

// OnWaiting implements Observer.OnWaiting.
func (f ObserverFuncs) OnWaiting(info RunInfo) {
	if f.Waiting != nil {
		f.Waiting(info)
	}
}

// OnSuccess implements Observer.OnSuccess.
func (f ObserverFuncs) OnSuccess(info RunInfo) {
	if f.Success != nil {
		f.Success(info)
	}
}

// OnFailure implements Observer.OnFailure.
func (f ObserverFuncs) OnFailure(info RunInfo) {
	if f.Failure != nil {
		f.Failure(info)
	}
}

// OnKilled implements KillObserver.OnKilled.
func (f ObserverFuncs) OnKilled(info RunInfo) {
	if f.Killed != nil {
		f.Killed(info)
	}
}

// OnAborted implements Observer.OnAborted.
func (f ObserverFuncs) OnAborted(err error) {
	if f.Aborted != nil {
		f.Aborted(err)
	}
}
