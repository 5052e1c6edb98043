package supervisor

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/0xmhha/dose/pkg/logger"
	"github.com/segmentio/ksuid"
)

// Run is one execution attempt of a command, spawned or cancelled.
type Run struct {
	config    Config
	callbacks Callbacks
	spawner   Spawner
	logger    logger.Logger

	// mu orders spawning against Kill.
	mu            sync.Mutex
	state         State
	proc          Process
	killRequested bool

	killed chan struct{}
	done   chan struct{}
}

// Start creates a run and begins its lifecycle on a new goroutine.
func Start(sp Spawner, cfg Config, cb Callbacks, log logger.Logger) *Run {
	cfg = cfg.withDefaults()
	if cfg.ID == "" {
		cfg.ID = ksuid.New().String()
	}

	r := &Run{
		config:    cfg,
		callbacks: cb,
		spawner:   sp,
		logger:    log.With("run", cfg.ID),
		state:     StatePending,
		killed:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	go r.run()
	return r
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.config.ID
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the run terminated and its callbacks returned.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Kill cancels the run and blocks until it is fully torn down. Calling it
// again, or after natural completion, only waits.
func (r *Run) Kill() {
	r.mu.Lock()
	if !r.killRequested {
		r.killRequested = true
		close(r.killed)
		if r.proc != nil {
			if err := r.proc.Terminate(); err != nil {
				r.logger.Warn("failed to terminate process", "error", err)
			}
		}
		r.logger.Debug("kill requested", "state", r.state)
	}
	r.mu.Unlock()

	<-r.done
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) run() {
	defer close(r.done)

	res, err := r.lifecycle()
	r.setState(StateTerminated)

	if err != nil {
		r.logger.Error("run failed", "error", err)
		if r.callbacks.Exception != nil {
			r.callbacks.Exception(err)
		}
		return
	}

	r.logger.Debug("run terminated",
		"spawned", res.Spawned,
		"killed", res.Killed,
		"exit_code", res.ExitCode)
	if r.callbacks.After != nil {
		r.callbacks.After(res)
	}
}

// lifecycle walks PreSpawnWait, Spawned and the wait for exit. Panics,
// including those raised by Before, come back as *PanicError.
func (r *Run) lifecycle() (res Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	r.setState(StatePreSpawnWait)

	timer := time.NewTimer(r.config.PreSpawnDelay)
	select {
	case <-r.killed:
		timer.Stop()
		r.logger.Debug("killed before spawn")
		return Result{Killed: true}, nil
	case <-timer.C:
	}

	if r.callbacks.Before != nil {
		r.callbacks.Before()
	}

	proc, spawned, err := r.spawn()
	if err != nil || !spawned {
		return Result{Killed: !spawned && err == nil}, err
	}
	defer func() {
		if closeErr := proc.Close(); closeErr != nil {
			r.logger.Warn("failed to close process", "error", closeErr)
		}
	}()
	start := time.Now()

	settle := time.NewTimer(r.config.KillDelay)
	select {
	case <-r.killed:
		settle.Stop()
	case <-settle.C:
	}

	code, err := proc.Wait()
	if err != nil {
		return Result{}, err
	}

	return Result{
		Spawned:  true,
		Killed:   proc.Terminated(),
		ExitCode: code,
		Duration: time.Since(start),
	}, nil
}

// spawn creates the process unless a kill arrived first. It holds the
// same lock as Kill, so a process is never created after a kill request
// and a created process is always visible to Kill.
func (r *Run) spawn() (Process, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.killRequested {
		r.logger.Debug("killed before spawn")
		return nil, false, nil
	}

	proc, err := r.spawner.Start(r.config.Command, r.config.Dir)
	if err != nil {
		return nil, false, err
	}
	if proc == nil {
		return nil, false, ErrNilProcess
	}

	r.proc = proc
	r.state = StateSpawned
	r.logger.Debug("process spawned", "command", r.config.Command, "dir", r.config.Dir)
	return proc, true, nil
}
