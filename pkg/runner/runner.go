package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/0xmhha/dose/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Runner starts shell processes with a fixed configuration.
type Runner struct {
	config Config
	logger logger.Logger
}

// New creates a runner.
func New(cfg Config, log logger.Logger) *Runner {
	return &Runner{
		config: cfg.withDefaults(),
		logger: log,
	}
}

// Process is one spawned child with its two output copiers.
type Process struct {
	cmd     *exec.Cmd
	logger  logger.Logger
	drain   time.Duration
	grace   time.Duration
	readers []*os.File
	copiers errgroup.Group
	exitCh  chan struct{}

	waitOnce sync.Once
	exitCode int
	waitErr  error
	copyErr  error

	mu         sync.Mutex
	exited     bool
	terminated bool
}

// Start spawns command through the shell in workDir and starts relaying
// its output. Errors creating the process are returned as *SpawnError.
func (r *Runner) Start(command, workDir string) (*Process, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}

	args := append(append([]string{}, r.config.Shell[1:]...), command)
	cmd := exec.Command(r.config.Shell[0], args...) // nolint:gosec
	cmd.Dir = workDir
	cmd.Env = r.environ()
	setProcessGroup(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Dir: workDir, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, &SpawnError{Command: command, Dir: workDir, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, &SpawnError{Command: command, Dir: workDir, Err: err}
	}

	// The child holds its own copies of the write ends.
	closeAll(outW, errW)

	p := &Process{
		cmd:     cmd,
		logger:  r.logger.With("pid", cmd.Process.Pid),
		drain:   r.config.DrainTimeout,
		grace:   r.config.KillGrace,
		readers: []*os.File{outR, errR},
		exitCh:  make(chan struct{}),
	}

	chunk := r.config.ChunkSize
	p.copiers.Go(func() error { return p.copyStream("stdout", outR, r.config.Stdout, chunk) })
	p.copiers.Go(func() error { return p.copyStream("stderr", errR, r.config.Stderr, chunk) })

	p.logger.Debug("process spawned", "command", command, "dir", workDir)
	return p, nil
}

// environ builds the child environment.
func (r *Runner) environ() []string {
	env := append(os.Environ(), r.config.Env...)
	if r.config.Columns > 0 {
		env = append(env, "COLUMNS="+strconv.Itoa(r.config.Columns))
	}
	return env
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait blocks until the child exits and both copiers finished, and returns
// the exit code. A non-zero exit is not an error; a child killed by a
// signal reports -1.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(p.wait)
	return p.exitCode, p.waitErr
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	close(p.exitCh)
	p.mu.Unlock()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
		p.waitErr = fmt.Errorf("wait for process: %w", err)
	}

	p.drainCopiers()
	p.logger.Debug("process exited", "exit_code", p.exitCode)
}

// drainCopiers waits for the copiers, cutting them off after the drain
// timeout by closing the read ends.
func (p *Process) drainCopiers() {
	done := make(chan error, 1)
	go func() { done <- p.copiers.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(p.drain):
		p.logger.Warn("output still open after exit, closing pipes",
			"drain_timeout", p.drain)
		closeAll(p.readers...)
		err = <-done
	}
	closeAll(p.readers...)

	if err != nil {
		p.copyErr = err
		p.logger.Warn("output relay failed", "error", err)
	}
}

// Terminate asks a running child (and its process group) to stop. A
// child still running after the kill grace period is killed outright.
// It is a no-op once the child exited or was already terminated.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited || p.terminated {
		return nil
	}
	p.terminated = true

	if err := terminateProcess(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate process: %w", err)
	}
	p.logger.Debug("process terminated")

	go p.escalate()
	return nil
}

// escalate kills the process group unless the child exits within the
// grace period.
func (p *Process) escalate() {
	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-p.exitCh:
		return
	case <-timer.C:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The pid may be reused once the child was reaped.
	if p.exited {
		return
	}

	p.logger.Warn("process ignored termination, killing", "kill_grace", p.grace)
	if err := killProcess(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Error("failed to kill process", "error", err)
	}
}

// Terminated reports whether Terminate signalled the child.
func (p *Process) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Exited reports whether the child has been reaped.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// CopyErr returns the first stream relay failure, if any. It is only
// meaningful after Wait returned.
func (p *Process) CopyErr() error {
	return p.copyErr
}

// Close terminates the child if it is still running and waits for it and
// for both copiers.
func (p *Process) Close() error {
	termErr := p.Terminate()
	_, waitErr := p.Wait()
	return errors.Join(termErr, waitErr)
}

// copyStream relays src to dst in chunks until EOF. Write failures are
// reported once and the rest of the stream is discarded, so the child
// never blocks on a full pipe.
func (p *Process) copyStream(name string, src io.Reader, dst io.Writer, chunk int) error {
	buf := make([]byte, chunk)
	var copyErr error

	for {
		n, err := src.Read(buf)
		if n > 0 && copyErr == nil {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				copyErr = &StreamCopyError{Stream: name, Err: werr}
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return copyErr
		}
		if copyErr == nil {
			copyErr = &StreamCopyError{Stream: name, Err: err}
		}
		return copyErr
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close() // nolint:errcheck
	}
}
