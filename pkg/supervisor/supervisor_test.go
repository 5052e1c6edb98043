package supervisor

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/0xmhha/dose/pkg/logger"
	"github.com/0xmhha/dose/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcess exits when told to, or with -1 when terminated.
type fakeProcess struct {
	mu         sync.Mutex
	code       int
	terminated bool
	closed     bool

	exitOnce sync.Once
	exited   chan struct{}
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exited: make(chan struct{})}
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.exited)
	})
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, nil
}

func (p *fakeProcess) Terminate() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.exit(-1)
	return nil
}

func (p *fakeProcess) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *fakeProcess) Close() error {
	_ = p.Terminate() // nolint:errcheck
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeSpawner records every Start call.
type fakeSpawner struct {
	mu       sync.Mutex
	calls    int
	procs    []*fakeProcess
	err      error
	exitCode *int
}

func (s *fakeSpawner) Start(command, workDir string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	proc := newFakeProcess()
	if s.exitCode != nil {
		proc.exit(*s.exitCode)
	}
	s.procs = append(s.procs, proc)
	return proc, nil
}

func (s *fakeSpawner) startCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recorder collects callback invocations.
type recorder struct {
	mu         sync.Mutex
	befores    int
	results    []Result
	exceptions []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		Before: func() {
			r.mu.Lock()
			r.befores++
			r.mu.Unlock()
		},
		After: func(res Result) {
			r.mu.Lock()
			r.results = append(r.results, res)
			r.mu.Unlock()
		},
		Exception: func(err error) {
			r.mu.Lock()
			r.exceptions = append(r.exceptions, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() (int, []Result, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.befores, append([]Result(nil), r.results...), append([]error(nil), r.exceptions...)
}

func waitDone(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate")
	}
}

func intPtr(v int) *int { return &v }

func TestKillBeforeSpawnNeverStartsProcess(t *testing.T) {
	sp := &fakeSpawner{}
	rec := &recorder{}

	run := Start(sp, Config{Command: "true", PreSpawnDelay: time.Hour}, rec.callbacks(), logger.Noop())
	run.Kill()

	befores, results, exceptions := rec.snapshot()
	assert.Equal(t, 0, sp.startCalls())
	assert.Equal(t, 0, befores)
	assert.Empty(t, exceptions)
	require.Len(t, results, 1)
	assert.False(t, results[0].Spawned)
	assert.True(t, results[0].Killed)
	assert.Equal(t, StateTerminated, run.State())
}

func TestNaturalExit(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"success", 0},
		{"failure", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := &fakeSpawner{exitCode: intPtr(tt.code)}
			rec := &recorder{}

			run := Start(sp, Config{Command: "cmd", KillDelay: time.Millisecond}, rec.callbacks(), logger.Noop())
			waitDone(t, run)

			befores, results, exceptions := rec.snapshot()
			assert.Equal(t, 1, sp.startCalls())
			assert.Equal(t, 1, befores)
			assert.Empty(t, exceptions)
			require.Len(t, results, 1)
			assert.True(t, results[0].Spawned)
			assert.False(t, results[0].Killed)
			assert.Equal(t, tt.code, results[0].ExitCode)
			assert.True(t, sp.procs[0].isClosed())
		})
	}
}

func TestKillAfterSpawn(t *testing.T) {
	sp := &fakeSpawner{}
	rec := &recorder{}

	run := Start(sp, Config{Command: "cmd"}, rec.callbacks(), logger.Noop())
	require.Eventually(t, func() bool { return run.State() == StateSpawned },
		2*time.Second, time.Millisecond)

	run.Kill()

	_, results, _ := rec.snapshot()
	require.Len(t, results, 1)
	assert.True(t, results[0].Spawned)
	assert.True(t, results[0].Killed)
	assert.Equal(t, -1, results[0].ExitCode)
	assert.True(t, sp.procs[0].Terminated())
	assert.True(t, sp.procs[0].isClosed())

	// Nothing fires after Kill returned.
	time.Sleep(20 * time.Millisecond)
	_, results, _ = rec.snapshot()
	assert.Len(t, results, 1)
}

func TestKillIsIdempotent(t *testing.T) {
	sp := &fakeSpawner{exitCode: intPtr(0)}
	rec := &recorder{}

	run := Start(sp, Config{Command: "cmd", KillDelay: time.Millisecond}, rec.callbacks(), logger.Noop())
	waitDone(t, run)

	run.Kill()
	run.Kill()

	_, results, exceptions := rec.snapshot()
	assert.Len(t, results, 1)
	assert.Empty(t, exceptions)
	assert.False(t, results[0].Killed)
	assert.False(t, sp.procs[0].Terminated())
}

func TestConcurrentKill(t *testing.T) {
	sp := &fakeSpawner{}
	rec := &recorder{}

	run := Start(sp, Config{Command: "cmd", PreSpawnDelay: time.Millisecond}, rec.callbacks(), logger.Noop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.Kill()
		}()
	}
	wg.Wait()

	_, results, exceptions := rec.snapshot()
	assert.Len(t, results, 1)
	assert.Empty(t, exceptions)
}

func TestKillDuringSpawnWindowNeverLeaks(t *testing.T) {
	for i := 0; i < 50; i++ {
		sp := &fakeSpawner{}
		rec := &recorder{}

		run := Start(sp, Config{
			Command:       "cmd",
			PreSpawnDelay: time.Millisecond,
			KillDelay:     time.Millisecond,
		}, rec.callbacks(), logger.Noop())

		time.Sleep(time.Duration(i%3) * time.Millisecond)
		run.Kill()

		_, results, exceptions := rec.snapshot()
		require.Len(t, results, 1, "iteration %d", i)
		require.Empty(t, exceptions)

		for _, proc := range sp.procs {
			assert.True(t, proc.isClosed(), "spawned process left open")
		}
		if results[0].Spawned {
			assert.Len(t, sp.procs, 1)
		} else {
			assert.Empty(t, sp.procs)
		}
	}
}

func TestSpawnErrorGoesToException(t *testing.T) {
	spawnErr := errors.New("no shell")
	sp := &fakeSpawner{err: spawnErr}
	rec := &recorder{}

	run := Start(sp, Config{Command: "cmd"}, rec.callbacks(), logger.Noop())
	waitDone(t, run)

	befores, results, exceptions := rec.snapshot()
	assert.Equal(t, 1, befores)
	assert.Empty(t, results)
	require.Len(t, exceptions, 1)
	assert.ErrorIs(t, exceptions[0], spawnErr)
}

func TestPanicInBeforeGoesToException(t *testing.T) {
	sp := &fakeSpawner{}
	rec := &recorder{}
	cb := rec.callbacks()
	cb.Before = func() { panic("broken observer") }

	run := Start(sp, Config{Command: "cmd"}, cb, logger.Noop())
	waitDone(t, run)

	_, results, exceptions := rec.snapshot()
	assert.Empty(t, results)
	assert.Equal(t, 0, sp.startCalls())
	require.Len(t, exceptions, 1)

	var panicErr *PanicError
	require.ErrorAs(t, exceptions[0], &panicErr)
	assert.Equal(t, "broken observer", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Contains(t, panicErr.Error(), "broken observer")
}

func TestNilCallbacks(t *testing.T) {
	sp := &fakeSpawner{exitCode: intPtr(0)}

	run := Start(sp, Config{Command: "cmd"}, Callbacks{}, logger.Noop())
	waitDone(t, run)

	assert.Equal(t, StateTerminated, run.State())
}

func TestGeneratedID(t *testing.T) {
	sp := &fakeSpawner{}

	a := Start(sp, Config{PreSpawnDelay: time.Hour}, Callbacks{}, logger.Noop())
	b := Start(sp, Config{ID: "fixed", PreSpawnDelay: time.Hour}, Callbacks{}, logger.Noop())
	defer a.Kill()
	defer b.Kill()

	assert.NotEmpty(t, a.ID())
	assert.Equal(t, "fixed", b.ID())
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "PENDING"},
		{StatePreSpawnWait, "PRE_SPAWN_WAIT"},
		{StateSpawned, "SPAWNED"},
		{StateTerminated, "TERMINATED"},
		{State(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestWithRealRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	sp := FromRunner(runner.New(runner.Config{}, logger.Noop()))

	t.Run("exit code", func(t *testing.T) {
		rec := &recorder{}
		run := Start(sp, Config{Command: "exit 1", Dir: t.TempDir()}, rec.callbacks(), logger.Noop())
		waitDone(t, run)

		_, results, _ := rec.snapshot()
		require.Len(t, results, 1)
		assert.Equal(t, 1, results[0].ExitCode)
		assert.False(t, results[0].Killed)
	})

	t.Run("kill long command", func(t *testing.T) {
		rec := &recorder{}
		run := Start(sp, Config{Command: "sleep 30", Dir: t.TempDir()}, rec.callbacks(), logger.Noop())
		require.Eventually(t, func() bool { return run.State() == StateSpawned },
			2*time.Second, time.Millisecond)

		start := time.Now()
		run.Kill()

		assert.Less(t, time.Since(start), 5*time.Second)
		_, results, _ := rec.snapshot()
		require.Len(t, results, 1)
		assert.True(t, results[0].Killed)
	})

	t.Run("spawn error", func(t *testing.T) {
		rec := &recorder{}
		run := Start(sp, Config{Command: "true", Dir: "/nonexistent/dose"}, rec.callbacks(), logger.Noop())
		waitDone(t, run)

		_, results, exceptions := rec.snapshot()
		assert.Empty(t, results)
		require.Len(t, exceptions, 1)

		var spawnErr *runner.SpawnError
		assert.ErrorAs(t, exceptions[0], &spawnErr)
	})
}
