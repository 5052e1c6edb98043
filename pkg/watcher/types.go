// Package watcher provides the filesystem subscription that feeds dose.
//
// It wraps fsnotify, registers every directory below a root so the tree is
// watched recursively, and reports each notification as an Event whose path
// is relative to that root. Coalescing and filtering are left to the
// debounce package.
//
// Example usage:
//
//	w, err := watcher.New(watcher.Config{Recursive: true}, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	if err := w.Start(ctx, "/tmp/proj"); err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range w.Events() {
//	    fmt.Printf("%s %s\n", event.Op, event.Path)
//	}
package watcher

import (
	"context"
	"time"
)

// Op describes a file operation type.
type Op uint32

// File operation types.
const (
	OpCreate Op = 1 << iota // File created
	OpWrite                 // File modified
	OpRemove                // File deleted
	OpRename                // File renamed/moved
	OpChmod                 // File permissions changed
)

// String returns a human-readable operation name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Verb returns the past-tense description used in run headers.
func (op Op) Verb() string {
	switch op {
	case OpCreate:
		return "created"
	case OpWrite:
		return "modified"
	case OpRemove:
		return "deleted"
	case OpRename:
		return "moved"
	case OpChmod:
		return "changed"
	default:
		return "touched"
	}
}

// Event represents one filesystem notification.
type Event struct {
	// Path is relative to the watch root, slash separated.
	Path string

	// AbsPath is the absolute path reported by the OS.
	AbsPath string

	// Op is the operation that triggered the event.
	Op Op

	// IsDir is true when the event concerns a directory.
	IsDir bool

	// Timestamp is when the event was received.
	Timestamp time.Time
}

// Watcher is a live, recursive filesystem subscription.
type Watcher interface {
	// Start registers root (and, when recursive, all of its subdirectories)
	// and begins delivering events. It returns once the subscription is
	// open; delivery stops when ctx is cancelled or Stop/Close is called.
	Start(ctx context.Context, root string) error

	// Stop stops event delivery. The watcher cannot be restarted.
	Stop() error

	// Events returns the channel of filesystem events.
	// The channel is closed by Close.
	Events() <-chan Event

	// Errors returns the channel of non-fatal watcher errors.
	// The channel is closed by Close.
	Errors() <-chan error

	// Close releases the OS subscription. Calling Close twice is a no-op.
	Close() error
}

// Config contains watcher configuration.
type Config struct {
	// Recursive watches every subdirectory of the root, including
	// directories created after Start.
	Recursive bool

	// BufferSize is the capacity of the events channel.
	// Default: 256.
	BufferSize int

	// CircuitBreakerThreshold is the number of consecutive failures
	// before the circuit breaker opens (stops forwarding errors).
	// Default: 5.
	CircuitBreakerThreshold int
}
