package history

import (
	"sync"
	"time"

	"github.com/0xmhha/dose/pkg/logger"
	"github.com/0xmhha/dose/pkg/watch"
)

// Recorder is a watch observer that appends a record per finished run.
// Store failures are logged; they never disturb the watch session.
type Recorder struct {
	store  Store
	logger logger.Logger

	mu      sync.Mutex
	current *watch.RunInfo

	// command and dir of the last run seen, for aborts between runs.
	command string
	dir     string
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, log logger.Logger) *Recorder {
	return &Recorder{store: store, logger: log}
}

// OnWaiting implements watch.Observer.OnWaiting.
func (r *Recorder) OnWaiting(info watch.RunInfo) {
	r.mu.Lock()
	r.current = &info
	r.command, r.dir = info.Command, info.Dir
	r.mu.Unlock()
}

// OnSuccess implements watch.Observer.OnSuccess.
func (r *Recorder) OnSuccess(info watch.RunInfo) {
	r.finish(info, OutcomeSuccess, nil)
}

// OnFailure implements watch.Observer.OnFailure.
func (r *Recorder) OnFailure(info watch.RunInfo) {
	r.finish(info, OutcomeFailure, nil)
}

// OnKilled implements watch.KillObserver.OnKilled.
func (r *Recorder) OnKilled(info watch.RunInfo) {
	r.finish(info, OutcomeKilled, nil)
}

// OnAborted implements watch.Observer.OnAborted. The record describes the
// announced run; between runs it carries the session's command and
// directory and the time of the abort.
func (r *Recorder) OnAborted(err error) {
	r.mu.Lock()
	info := watch.RunInfo{
		Command:   r.command,
		Dir:       r.dir,
		StartedAt: time.Now(),
	}
	if r.current != nil {
		info = *r.current
	}
	r.mu.Unlock()

	r.finish(info, OutcomeAborted, err)
}

func (r *Recorder) finish(info watch.RunInfo, outcome Outcome, runErr error) {
	r.mu.Lock()
	if r.current != nil && r.current.ID == info.ID {
		r.current = nil
	}
	if info.Command != "" {
		r.command, r.dir = info.Command, info.Dir
	}
	r.mu.Unlock()

	rec := FromRunInfo(info, outcome, runErr)
	if err := r.store.Append(rec); err != nil {
		r.logger.Warn("failed to record run",
			"run", info.ID,
			"outcome", outcome,
			"error", err)
	}
}

// FromRunInfo builds a record for a run, reusing the run ID.
func FromRunInfo(info watch.RunInfo, outcome Outcome, runErr error) *Record {
	rec := &Record{
		ID:        info.ID,
		Seq:       info.Seq,
		Dir:       info.Dir,
		Command:   info.Command,
		Outcome:   outcome,
		ExitCode:  info.ExitCode,
		StartedAt: info.StartedAt,
		Duration:  info.Duration,
		Paths:     info.Trigger.Paths(),
	}
	if len(rec.Paths) == 0 {
		rec.Paths = nil
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}
