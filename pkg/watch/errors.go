package watch

import "errors"

var (
	// ErrAlreadyWatching is returned by Start while a session is active.
	ErrAlreadyWatching = errors.New("already watching")

	// ErrEmptyCommand is returned for a request without a command.
	ErrEmptyCommand = errors.New("command is empty")

	// ErrInvalidDirectory is returned when the request directory is unusable.
	ErrInvalidDirectory = errors.New("invalid watch directory")

	// ErrInvalidCommand is returned when the command is not valid shell syntax.
	ErrInvalidCommand = errors.New("invalid command syntax")

	// ErrInvalidEnvFile is returned when the env file cannot be read.
	ErrInvalidEnvFile = errors.New("invalid env file")

	// ErrSubscriptionLost is reported through OnAborted when the
	// filesystem subscription closed on its own.
	ErrSubscriptionLost = errors.New("filesystem subscription closed unexpectedly")
)
