package watcher

import "errors"

var (
	// ErrWatcherClosed is returned by Start and Stop after Close.
	ErrWatcherClosed = errors.New("watcher is closed")

	// ErrAlreadyStarted is returned by a second Start. A stopped watcher
	// cannot be restarted either.
	ErrAlreadyStarted = errors.New("watcher already started")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("watcher not started")

	// ErrInvalidPath is returned when the watch root is missing or not a directory.
	ErrInvalidPath = errors.New("invalid watch path")

	// ErrCircuitBreakerOpen is sent on Errors once fsnotify failed
	// CircuitBreakerThreshold times. No further errors follow it.
	ErrCircuitBreakerOpen = errors.New("filesystem subscription failed repeatedly")

	// ErrRootRemoved is sent on Errors when the watched directory itself
	// is deleted or moved away. The subscription is dead afterwards.
	ErrRootRemoved = errors.New("watched directory was removed")
)
