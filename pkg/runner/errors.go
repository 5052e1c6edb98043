package runner

import (
	"errors"
	"fmt"
)

// ErrEmptyCommand is returned when Start is called with a blank command.
var ErrEmptyCommand = errors.New("empty command")

// SpawnError reports that the shell process could not be created.
type SpawnError struct {
	Command string
	Dir     string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q in %s: %v", e.Command, e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// StreamCopyError reports a failure while relaying a child output stream.
type StreamCopyError struct {
	Stream string
	Err    error
}

func (e *StreamCopyError) Error() string {
	return fmt.Sprintf("copy %s: %v", e.Stream, e.Err)
}

func (e *StreamCopyError) Unwrap() error {
	return e.Err
}
