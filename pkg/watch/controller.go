package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/dose/pkg/debounce"
	"github.com/0xmhha/dose/pkg/logger"
	"github.com/0xmhha/dose/pkg/runner"
	"github.com/0xmhha/dose/pkg/supervisor"
	"github.com/0xmhha/dose/pkg/watcher"
	"github.com/segmentio/ksuid"
)

// Controller owns the watching state. At most one session is active.
type Controller struct {
	config   Config
	deps     Deps
	observer Observer
	logger   logger.Logger

	mu   sync.Mutex
	sess *session
}

// session is the state of one Start..Stop span. Everything below the
// channels is touched only by the control goroutine.
type session struct {
	req     Request
	watcher watcher.Watcher
	spawner supervisor.Spawner
	filter  *debounce.Filter
	cancel  context.CancelFunc

	mailbox  *mailbox
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	closing  atomic.Bool

	debouncer *debounce.Debouncer
	guard     *debounce.Guard
	active    *supervisor.Run
	stopped   string
	announced string
	runs      int
	abortErr  error
}

// New creates a controller.
func New(cfg Config, deps Deps, log logger.Logger) *Controller {
	if deps.NewWatcher == nil {
		deps.NewWatcher = func(wcfg watcher.Config) (watcher.Watcher, error) {
			return watcher.New(wcfg, log.Named("watcher"))
		}
	}
	if deps.NewSpawner == nil {
		deps.NewSpawner = func(rcfg runner.Config) supervisor.Spawner {
			return supervisor.FromRunner(runner.New(rcfg, log.Named("runner")))
		}
	}

	var observer Observer = Observers{}
	if deps.Observer != nil {
		observer = deps.Observer
	}

	return &Controller{
		config:   cfg,
		deps:     deps,
		observer: observer,
		logger:   log.Named("watch"),
	}
}

// Start begins watching req.Dir and fires the startup run.
func (c *Controller) Start(req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return ErrAlreadyWatching
	}

	if err := req.Validate(); err != nil {
		return err
	}
	absDir, err := filepath.Abs(req.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}
	req.Dir = absDir

	env, err := req.Environ()
	if err != nil {
		return err
	}

	filter, err := debounce.NewFilter(debounce.FilterConfig{
		Root:             absDir,
		SkipPatterns:     req.SkipPatterns,
		RespectGitignore: req.RespectGitignore,
	}, c.logger)
	if err != nil {
		return err
	}

	wcfg := c.config.Watcher
	wcfg.Recursive = true
	w, err := c.deps.NewWatcher(wcfg)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx, absDir); err != nil {
		cancel()
		if closeErr := w.Close(); closeErr != nil {
			c.logger.Warn("failed to close watcher", "error", closeErr)
		}
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	rcfg := c.config.Runner
	rcfg.Env = append(append([]string(nil), rcfg.Env...), env...)

	s := &session{
		req:     req,
		watcher: w,
		spawner: c.deps.NewSpawner(rcfg),
		filter:  filter,
		cancel:  cancel,
		mailbox: newMailbox(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		guard:   debounce.NewGuard(),
	}
	s.debouncer = debounce.NewDebouncer(c.config.Debounce,
		func(fn func()) { s.mailbox.post(fn) },
		func(trig debounce.Trigger) { c.startRun(s, trig) })
	s.debouncer.SetLeadingEdge(c.config.LeadingEdge)

	c.sess = s
	go c.loop(s)

	c.logger.Info("watching started",
		"dir", absDir,
		"command", req.Command,
		"skip_patterns", len(filter.Patterns()),
		"debounce", c.config.Debounce,
		"leading_edge", c.config.LeadingEdge)

	return nil
}

// Stop ends the session: the subscription is closed, the active run is
// killed and the state cleared. It returns once all of that happened and
// is a no-op when not watching.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s == nil {
		return
	}

	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// Watching reports whether a subscription is open.
func (c *Controller) Watching() bool {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()

	return s != nil && !s.closing.Load()
}

// Request returns the request of the active session.
func (c *Controller) Request() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return Request{}, false
	}
	return c.sess.req, true
}

// loop is the control goroutine of a session.
func (c *Controller) loop(s *session) {
	defer close(s.done)

	s.debouncer.Startup()

	events := s.watcher.Events()
	errs := s.watcher.Errors()

	for s.abortErr == nil {
		select {
		case <-s.stopCh:
			c.teardown(s)
			return

		case <-s.mailbox.signal:
			for _, fn := range s.mailbox.drain() {
				fn()
			}

		case ev, ok := <-events:
			if !ok {
				s.abortErr = ErrSubscriptionLost
				break
			}
			c.handleEvent(s, ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				break
			}
			c.handleWatchError(s, err)
		}
	}

	err := s.abortErr
	c.teardown(s)
	c.detach(s)

	c.logger.Error("watching aborted", "dir", s.req.Dir, "error", err)
	c.observer.OnAborted(err)
}

// handleEvent applies the filter, records the path in the guard, kills
// the run in flight and queues the event for the debouncer.
func (c *Controller) handleEvent(s *session, ev watcher.Event) {
	if reason := s.filter.Reject(ev, s.guard); reason != debounce.ReasonNone {
		c.logger.Debug("event ignored",
			"path", ev.Path,
			"op", ev.Op,
			"reason", reason)
		return
	}

	c.logger.Debug("change accepted", "path", ev.Path, "op", ev.Op)

	s.guard.Add(ev.Path)
	c.killActive(s)
	s.debouncer.Push(ev)
}

func (c *Controller) handleWatchError(s *session, err error) {
	c.logger.Warn("watcher error", "error", err)

	if errors.Is(err, watcher.ErrCircuitBreakerOpen) || errors.Is(err, watcher.ErrRootRemoved) {
		s.abortErr = fmt.Errorf("filesystem subscription failed: %w", err)
	}
}

// startRun is the debouncer's emit function.
func (c *Controller) startRun(s *session, trig debounce.Trigger) {
	if s.closing.Load() || s.abortErr != nil {
		return
	}

	c.killActive(s)

	s.runs++
	info := &RunInfo{
		ID:      ksuid.New().String(),
		Seq:     s.runs,
		Command: s.req.Command,
		Dir:     s.req.Dir,
		Trigger: trig,
	}

	c.logger.Debug("starting run",
		"run", info.ID,
		"seq", info.Seq,
		"synthetic", trig.Synthetic,
		"events", len(trig.Events))

	s.active = supervisor.Start(s.spawner, supervisor.Config{
		ID:            info.ID,
		Command:       s.req.Command,
		Dir:           s.req.Dir,
		PreSpawnDelay: c.config.PreSpawnDelay,
		KillDelay:     c.config.KillDelay,
	}, supervisor.Callbacks{
		Before: func() {
			s.mailbox.post(func() { c.onBefore(s, info) })
		},
		After: func(res supervisor.Result) {
			s.mailbox.post(func() { c.onAfter(s, info, res) })
		},
		Exception: func(err error) {
			s.mailbox.post(func() { c.onException(s, info, err) })
		},
	}, c.logger)
}

func (c *Controller) isActive(s *session, id string) bool {
	return s.active != nil && s.active.ID() == id
}

// killActive supersedes the run in flight, if any. Its After callback is
// already queued in the mailbox when Kill returns.
func (c *Controller) killActive(s *session) {
	if s.active == nil {
		return
	}
	run := s.active
	s.active = nil
	run.Kill()
}

func (c *Controller) onBefore(s *session, info *RunInfo) {
	if !c.isActive(s, info.ID) {
		return
	}
	info.StartedAt = time.Now()
	s.announced = info.ID
	c.observer.OnWaiting(*info)
}

func (c *Controller) onAfter(s *session, info *RunInfo, res supervisor.Result) {
	info.Spawned = res.Spawned
	if res.Spawned {
		info.ExitCode = res.ExitCode
		info.Duration = res.Duration
	}

	announced := s.announced == info.ID
	if announced {
		s.announced = ""
	}

	// The run teardown stopped was not superseded; only its own result
	// says whether the kill landed before it exited.
	superseded := !c.isActive(s, info.ID) && info.ID != s.stopped
	if superseded || res.Killed {
		info.Killed = true
		c.logger.Debug("run superseded", "run", info.ID, "spawned", res.Spawned)
		if announced {
			if k, ok := c.observer.(KillObserver); ok {
				k.OnKilled(*info)
			}
		}
		return
	}

	if c.isActive(s, info.ID) {
		s.active = nil
	}
	if !res.Spawned {
		return
	}

	s.guard.Clear()

	c.logger.Info("run finished",
		"run", info.ID,
		"exit_code", info.ExitCode,
		"duration", info.Duration)

	if info.ExitCode == 0 {
		c.observer.OnSuccess(*info)
	} else {
		c.observer.OnFailure(*info)
	}
}

func (c *Controller) onException(s *session, info *RunInfo, err error) {
	if c.isActive(s, info.ID) {
		s.active = nil
	}
	if s.closing.Load() {
		c.logger.Warn("run failed while stopping", "run", info.ID, "error", err)
		return
	}
	if s.abortErr == nil {
		s.abortErr = err
	}
}

// teardown releases everything a session holds. Runs on the control
// goroutine.
func (c *Controller) teardown(s *session) {
	s.closing.Store(true)
	s.debouncer.Stop()
	s.cancel()

	if err := s.watcher.Close(); err != nil {
		c.logger.Warn("failed to close watcher", "error", err)
	}

	if s.active != nil {
		s.stopped = s.active.ID()
	}
	c.killActive(s)
	for _, fn := range s.mailbox.close() {
		fn()
	}
	s.guard.Clear()

	c.logger.Info("watching stopped", "dir", s.req.Dir, "runs", s.runs)
}

// detach forgets s if it is still the current session.
func (c *Controller) detach(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == s {
		c.sess = nil
	}
}
