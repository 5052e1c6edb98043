// Package runner spawns the test command as a shell subprocess.
//
// Output is relayed while the child runs: one goroutine per stream copies
// small chunks from the child's stdout and stderr to the configured sinks.
// A Process must be closed by its owner; Close terminates a child that is
// still running and waits for both copiers, so no goroutine or process
// outlives the scope that started it.
//
// Example usage:
//
//	r := runner.New(runner.Config{Stdout: os.Stdout, Stderr: os.Stderr}, log)
//	proc, err := r.Start("go test ./...", "/tmp/proj")
//	if err != nil {
//	    return err
//	}
//	defer proc.Close()
//
//	code, err := proc.Wait()
package runner

import (
	"io"
	"runtime"
	"time"
)

// Config contains runner configuration.
type Config struct {
	// Shell is the interpreter prefix; the command is appended as its last
	// argument. Default: /bin/sh -c (cmd /C on Windows).
	Shell []string

	// Stdout receives the child's standard output. Default: io.Discard.
	Stdout io.Writer

	// Stderr receives the child's standard error. Default: io.Discard.
	Stderr io.Writer

	// Env is appended to the parent environment.
	Env []string

	// Columns, when positive, is exported to the child as COLUMNS.
	Columns int

	// ChunkSize is the largest read relayed in one write.
	// Default: 1024.
	ChunkSize int

	// DrainTimeout bounds how long the copiers may keep reading after the
	// child exited (a background grandchild can hold the pipes open).
	// Default: 1s.
	DrainTimeout time.Duration

	// KillGrace is how long a terminated child may take to exit before
	// its process group is killed. Default: 2s.
	KillGrace time.Duration
}

// DefaultKillGrace is the KillGrace used when none is set.
const DefaultKillGrace = 2 * time.Second

// DefaultShell returns the platform shell prefix.
func DefaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"/bin/sh", "-c"}
}

func (c Config) withDefaults() Config {
	if len(c.Shell) == 0 {
		c.Shell = DefaultShell()
	}
	if c.Stdout == nil {
		c.Stdout = io.Discard
	}
	if c.Stderr == nil {
		c.Stderr = io.Discard
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1024
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = time.Second
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	return c
}
