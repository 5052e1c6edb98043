package config

import "errors"

// Common errors returned by the config package.
var (
	// ErrNoDirectory is returned when no watch directory is specified.
	ErrNoDirectory = errors.New("no watch directory specified")

	// ErrInvalidDebounceWindow is returned when the debounce window is < 0.
	ErrInvalidDebounceWindow = errors.New("invalid debounce window: must be >= 0")

	// ErrInvalidPreSpawnDelay is returned when the pre-spawn delay is < 0.
	ErrInvalidPreSpawnDelay = errors.New("invalid pre-spawn delay: must be >= 0")

	// ErrInvalidKillDelay is returned when the kill delay is < 0.
	ErrInvalidKillDelay = errors.New("invalid kill delay: must be >= 0")

	// ErrInvalidDrainTimeout is returned when the drain timeout is < 0.
	ErrInvalidDrainTimeout = errors.New("invalid drain timeout: must be >= 0")

	// ErrInvalidKillGrace is returned when the kill grace period is < 0.
	ErrInvalidKillGrace = errors.New("invalid kill grace: must be >= 0")

	// ErrInvalidColorMode is returned when the colour mode is not recognized.
	ErrInvalidColorMode = errors.New("invalid color mode: must be auto, always, or never")

	// ErrInvalidWidth is returned when the console width is < 0.
	ErrInvalidWidth = errors.New("invalid console width: must be >= 0")

	// ErrInvalidHistoryLimit is returned when the history limit is < 0.
	ErrInvalidHistoryLimit = errors.New("invalid history limit: must be >= 0")

	// ErrInvalidLogLevel is returned when log level is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level: must be debug, info, warn, or error")

	// ErrInvalidLogFormat is returned when log format is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format: must be text or json")

	// ErrConfigNotFound is returned when config file is not found.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidYAML is returned when config file has invalid YAML syntax.
	ErrInvalidYAML = errors.New("invalid YAML syntax in config file")
)
