package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0xmhha/dose/pkg/config"
	"github.com/0xmhha/dose/pkg/history"
	"github.com/0xmhha/dose/pkg/logger"
	"github.com/0xmhha/dose/pkg/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the runner's copier goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// isolate keeps the user's config, history and environment out of a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		config.EnvConfig, config.EnvDirectory, config.EnvCommand,
		config.EnvSkip, config.EnvDB, config.EnvLogLevel,
	} {
		t.Setenv(key, "")
	}
	return home
}

func testEnv(stdout *syncBuffer) *appEnv {
	env := defaultEnv()
	env.stdin = strings.NewReader("")
	env.stdout = stdout
	env.stderr = stdout
	return env
}

// captureWatch runs args with runWatch replaced by a recorder.
func captureWatch(t *testing.T, args ...string) (watchOptions, error) {
	t.Helper()

	var got watchOptions
	env := testEnv(&syncBuffer{})
	env.runWatch = func(ctx context.Context, env *appEnv, opts watchOptions) error {
		got = opts
		return nil
	}

	err := newApp(env).Run(context.Background(), append([]string{"dose", "watch"}, args...))
	return got, err
}

func TestWatchCommandFlags(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, opts watchOptions)
	}{
		{
			name: "defaults",
			args: []string{"--", "go", "test", "./..."},
			check: func(t *testing.T, opts watchOptions) {
				assert.Equal(t, "go test ./...", opts.cfg.Watch.Command)
				assert.Equal(t, ".", opts.cfg.Watch.Directory)
				assert.Equal(t, 200*time.Millisecond, opts.cfg.Timing.DebounceWindow)
				assert.False(t, opts.cfg.Timing.LeadingEdge)
				assert.False(t, opts.noHistory)
			},
		},
		{
			name: "all flags",
			args: []string{
				"--dir", dir,
				"--skip", "*.log;build/**",
				"--debounce", "1s",
				"--leading-edge",
				"--gitignore",
				"--env-file", ".env.test",
				"--color", "NEVER",
				"--no-history",
				"--", "make check",
			},
			check: func(t *testing.T, opts watchOptions) {
				assert.Equal(t, dir, opts.cfg.Watch.Directory)
				assert.Equal(t, "*.log;build/**", opts.cfg.Watch.SkipPatterns)
				assert.Equal(t, time.Second, opts.cfg.Timing.DebounceWindow)
				assert.True(t, opts.cfg.Timing.LeadingEdge)
				assert.True(t, opts.cfg.Watch.RespectGitignore)
				assert.Equal(t, ".env.test", opts.cfg.Watch.EnvFile)
				assert.Equal(t, "never", opts.cfg.Console.Color)
				assert.Equal(t, "make check", opts.cfg.Watch.Command)
				assert.True(t, opts.noHistory)
			},
		},
		{
			name: "arguments are quoted",
			args: []string{"--", "pytest", "-k", "slow and not db"},
			check: func(t *testing.T, opts watchOptions) {
				assert.Equal(t, "pytest -k 'slow and not db'", opts.cfg.Watch.Command)
			},
		},
		{
			name: "single argument is a shell string",
			args: []string{"--", "go vet ./... && go test ./..."},
			check: func(t *testing.T, opts watchOptions) {
				assert.Equal(t, "go vet ./... && go test ./...", opts.cfg.Watch.Command)
			},
		},
		{
			name: "zero debounce",
			args: []string{"--debounce", "0s", "--", "true"},
			check: func(t *testing.T, opts watchOptions) {
				assert.Equal(t, time.Duration(0), opts.cfg.Timing.DebounceWindow)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := captureWatch(t, tt.args...)
			require.NoError(t, err)
			require.NotNil(t, opts.cfg)
			tt.check(t, opts)
		})
	}
}

func TestWatchCommandFromConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "dose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
watch:
  command: pytest
storage:
  disabled: true
`), 0600))

	opts, err := captureWatch(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "pytest", opts.cfg.Watch.Command)
	assert.True(t, opts.noHistory)

	// Arguments win over the file.
	opts, err = captureWatch(t, "--config", path, "--", "tox")
	require.NoError(t, err)
	assert.Equal(t, "tox", opts.cfg.Watch.Command)
}

func TestWatchCommandErrors(t *testing.T) {
	isolate(t)

	t.Run("no command", func(t *testing.T) {
		_, err := captureWatch(t)
		assert.ErrorIs(t, err, watch.ErrEmptyCommand)
	})

	t.Run("invalid color", func(t *testing.T) {
		_, err := captureWatch(t, "--color", "rainbow", "--", "true")
		assert.ErrorIs(t, err, config.ErrInvalidColorMode)
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := captureWatch(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "--", "true")
		assert.ErrorIs(t, err, config.ErrConfigNotFound)
	})
}

func TestWatchRunsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	isolate(t)
	dbPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv(config.EnvDB, dbPath)

	stdout := &syncBuffer{}
	env := testEnv(stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- newApp(env).Run(ctx, []string{
			"dose", "watch",
			"--dir", t.TempDir(),
			"--color", "never",
			"--", "echo dose-ran",
		})
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "[ GREEN ]")
	}, 10*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}

	out := stdout.String()
	assert.Contains(t, out, "*** First call ***")
	assert.Contains(t, out, "dose-ran")
	assert.Contains(t, out, "[Dose] Stopped")

	store, err := history.New(history.Config{DBPath: dbPath}, logger.Noop())
	require.NoError(t, err)
	defer store.Close() // nolint:errcheck

	last, err := store.Last()
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeSuccess, last.Outcome)
	assert.Equal(t, "echo dose-ran", last.Command)
	assert.Equal(t, 1, last.Seq)
}

func TestWaitForEnter(t *testing.T) {
	t.Run("line", func(t *testing.T) {
		err := <-waitForEnter(bufio.NewReader(strings.NewReader("\n")))
		assert.NoError(t, err)
	})

	t.Run("closed stdin", func(t *testing.T) {
		err := <-waitForEnter(bufio.NewReader(strings.NewReader("")))
		assert.Error(t, err)
	})
}

func seedHistory(t *testing.T, dbPath string, records ...*history.Record) {
	t.Helper()
	store, err := history.New(history.Config{DBPath: dbPath}, logger.Noop())
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, store.Append(rec))
	}
	require.NoError(t, store.Close())
}

func TestHistoryCommand(t *testing.T) {
	isolate(t)
	dbPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv(config.EnvDB, dbPath)

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	seedHistory(t, dbPath,
		&history.Record{Seq: 1, Command: "make test", Outcome: history.OutcomeSuccess, StartedAt: started, Duration: time.Second},
		&history.Record{Seq: 2, Command: "make test", Outcome: history.OutcomeKilled, StartedAt: started, Paths: []string{"a.go"}},
		&history.Record{Seq: 3, Command: "make test", Outcome: history.OutcomeFailure, ExitCode: 2, StartedAt: started, Paths: []string{"b.go"}},
	)

	run := func(args ...string) (string, error) {
		stdout := &syncBuffer{}
		err := newApp(testEnv(stdout)).Run(context.Background(), append([]string{"dose", "history"}, args...))
		return stdout.String(), err
	}

	t.Run("table", func(t *testing.T) {
		out, err := run()
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 5)
		assert.Contains(t, lines[0], "OUTCOME")
		assert.Contains(t, lines[2], "failure")
		assert.Contains(t, lines[2], "b.go")
		assert.Contains(t, lines[3], "killed")
		assert.Contains(t, lines[4], "success")
		assert.Contains(t, lines[4], "(first call)")
	})

	t.Run("limit", func(t *testing.T) {
		out, err := run("1")
		require.NoError(t, err)
		assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
	})

	t.Run("json", func(t *testing.T) {
		out, err := run("--json", "2")
		require.NoError(t, err)
		assert.Contains(t, out, `"outcome": "failure"`)
		assert.Contains(t, out, `"outcome": "killed"`)
		assert.NotContains(t, out, `"outcome": "success"`)
	})

	t.Run("invalid count", func(t *testing.T) {
		_, err := run("zero")
		assert.Error(t, err)
	})
}

func TestHistoryCommandEmpty(t *testing.T) {
	isolate(t)
	t.Setenv(config.EnvDB, filepath.Join(t.TempDir(), "history.db"))

	stdout := &syncBuffer{}
	err := newApp(testEnv(stdout)).Run(context.Background(), []string{"dose", "history"})
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded\n", stdout.String())
}

func TestHistoryWhileWatching(t *testing.T) {
	isolate(t)
	dbPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv(config.EnvDB, dbPath)

	// Stands in for the store of a running `dose watch`.
	session, err := history.New(history.Config{DBPath: dbPath}, logger.Noop())
	require.NoError(t, err)
	defer session.Close() // nolint:errcheck

	require.NoError(t, session.Append(&history.Record{
		Seq:       1,
		Command:   "make test",
		Outcome:   history.OutcomeSuccess,
		StartedAt: time.Now(),
		Duration:  time.Second,
	}))

	tests := []struct {
		command string
		want    string
	}{
		{"history", "make test"},
		{"stats", "Runs"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			stdout := &syncBuffer{}
			err := newApp(testEnv(stdout)).Run(context.Background(), []string{"dose", tt.command})
			require.NoError(t, err)
			assert.Contains(t, stdout.String(), tt.want)
		})
	}

	require.NoError(t, session.Append(&history.Record{Seq: 2, Command: "make test", Outcome: history.OutcomeFailure, ExitCode: 1}))
}

func TestConfigCommands(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "dose", "config.yaml")

	run := func(args ...string) (string, error) {
		stdout := &syncBuffer{}
		err := newApp(testEnv(stdout)).Run(context.Background(), append([]string{"dose", "config"}, args...))
		return stdout.String(), err
	}

	out, err := run("init", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run("init", "--output", path)
	assert.Error(t, err, "init must not overwrite without --force")

	_, err = run("init", "--output", path, "--force")
	require.NoError(t, err)

	out, err = run("show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "# Source: "+path)
	assert.Contains(t, out, "debounce_window: 200ms")

	out, err = run("show", "--config", path, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"Watch"`)

	_, err = run("show", "--config", path, "--format", "xml")
	assert.Error(t, err)

	out, err = run("path", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Active configuration: "+path)
	assert.Contains(t, out, config.DefaultPath())
}

func TestParseHistoryCount(t *testing.T) {
	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryCount, false},
		{"5", 5, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"many", 0, true},
	}

	for _, tt := range tests {
		got, err := parseHistoryCount(tt.arg)
		if tt.wantErr {
			assert.Error(t, err, tt.arg)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormatTrigger(t *testing.T) {
	assert.Equal(t, "(first call)", formatTrigger(nil, 30))
	assert.Equal(t, "a.go,b.go", formatTrigger([]string{"a.go", "b.go"}, 30))
	assert.Equal(t, "abcdefg...", formatTrigger([]string{"abcdefghijklmnop"}, 10))
}

func TestFormatAbortBetweenRuns(t *testing.T) {
	between := &history.Record{Outcome: history.OutcomeAborted}
	assert.Equal(t, "-", formatRecordTrigger(between))
	assert.Equal(t, "-", formatCommand(between.Command))

	startup := &history.Record{Seq: 1, Command: "make test", Outcome: history.OutcomeAborted}
	assert.Equal(t, "(first call)", formatRecordTrigger(startup))
	assert.Equal(t, "make test", formatCommand(startup.Command))
}

func TestStatsCommand(t *testing.T) {
	isolate(t)
	dbPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv(config.EnvDB, dbPath)

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	seedHistory(t, dbPath,
		&history.Record{Command: "make test", Outcome: history.OutcomeSuccess, StartedAt: started, Duration: time.Second},
		&history.Record{Command: "make test", Outcome: history.OutcomeFailure, ExitCode: 1, StartedAt: started, Duration: 3 * time.Second},
		&history.Record{Command: "pytest", Outcome: history.OutcomeKilled, StartedAt: started},
	)

	run := func(args ...string) (string, error) {
		stdout := &syncBuffer{}
		err := newApp(testEnv(stdout)).Run(context.Background(), append([]string{"dose", "stats"}, args...))
		return stdout.String(), err
	}

	t.Run("overall", func(t *testing.T) {
		out, err := run()
		require.NoError(t, err)
		assert.Regexp(t, `Runs\s+3`, out)
		assert.Regexp(t, `Pass rate\s+50\.0%`, out)
		assert.Regexp(t, `Avg duration\s+2s`, out)
	})

	t.Run("grouped", func(t *testing.T) {
		out, err := run("--group-by", "command")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[0], "COMMAND")
		assert.Contains(t, lines[1], "make test")
		assert.Contains(t, lines[1], "50.0%")
		assert.Contains(t, lines[2], "pytest")
		assert.Contains(t, lines[2], "-")
	})

	t.Run("invalid dimension", func(t *testing.T) {
		_, err := run("--group-by", "model")
		assert.Error(t, err)
	})
}
