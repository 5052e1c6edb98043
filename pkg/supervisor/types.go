// Package supervisor turns a spawned process into a cancellable run with
// before / after / exception callbacks.
//
// A Run waits a short pre-spawn delay before creating its process, so runs
// that are superseded almost immediately (rapid successive saves) never
// spawn anything. Kill is safe from any goroutine, idempotent, and returns
// only after the run reached Terminated and its callbacks returned.
//
//	run := supervisor.Start(spawner, supervisor.Config{
//	    Command: "go test ./...",
//	    Dir:     "/tmp/proj",
//	}, supervisor.Callbacks{
//	    After: func(res supervisor.Result) { ... },
//	}, log)
//	defer run.Kill()
package supervisor

import (
	"time"

	"github.com/0xmhha/dose/pkg/runner"
)

// Default delays.
const (
	DefaultPreSpawnDelay = 10 * time.Millisecond
	DefaultKillDelay     = 50 * time.Millisecond
)

// State is the lifecycle position of a Run.
type State int

const (
	// StatePending is the state of a run that has not started its goroutine.
	StatePending State = iota
	// StatePreSpawnWait means the run is waiting out the pre-spawn delay.
	StatePreSpawnWait
	// StateSpawned means a process exists for the run.
	StateSpawned
	// StateTerminated is final.
	StateTerminated
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StatePreSpawnWait:
		return "PRE_SPAWN_WAIT"
	case StateSpawned:
		return "SPAWNED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Process is the part of a spawned child a Run needs.
type Process interface {
	Wait() (int, error)
	Terminate() error
	Terminated() bool
	Close() error
}

// Spawner creates processes. *runner.Runner satisfies it through FromRunner.
type Spawner interface {
	Start(command, workDir string) (Process, error)
}

// SpawnFunc adapts a function to the Spawner interface.
type SpawnFunc func(command, workDir string) (Process, error)

// Start implements Spawner.Start.
func (f SpawnFunc) Start(command, workDir string) (Process, error) {
	return f(command, workDir)
}

// FromRunner returns a Spawner backed by r.
func FromRunner(r *runner.Runner) Spawner {
	return SpawnFunc(func(command, workDir string) (Process, error) {
		proc, err := r.Start(command, workDir)
		if err != nil {
			return nil, err
		}
		return proc, nil
	})
}

// Config describes one run.
type Config struct {
	// ID identifies the run in logs. Generated when empty.
	ID string

	// Command is the shell command line.
	Command string

	// Dir is the working directory of the command.
	Dir string

	// PreSpawnDelay is waited before spawning; a kill during it cancels
	// the run without creating a process.
	PreSpawnDelay time.Duration

	// KillDelay is the settle time between spawn and waiting for exit.
	KillDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PreSpawnDelay <= 0 {
		c.PreSpawnDelay = DefaultPreSpawnDelay
	}
	if c.KillDelay <= 0 {
		c.KillDelay = DefaultKillDelay
	}
	return c
}

// Result is what After receives.
type Result struct {
	// Spawned is false when the run was cancelled before a process existed.
	Spawned bool

	// Killed reports whether Kill stopped the run.
	Killed bool

	// ExitCode of the process; meaningless unless Spawned.
	ExitCode int

	// Duration from spawn to exit; zero unless Spawned.
	Duration time.Duration
}

// Callbacks are invoked from the run's goroutine. Nil fields are skipped.
// Exactly one of After or Exception is called per run. Callbacks must not
// call Kill on their own run.
type Callbacks struct {
	// Before is called right before the process is spawned.
	Before func()

	// After is called once the run terminated without an internal error.
	After func(Result)

	// Exception is called instead of After when the run failed internally,
	// spawn failures included.
	Exception func(error)
}
