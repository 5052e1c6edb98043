package debounce

import "errors"

var (
	// ErrInvalidPattern is returned for a skip pattern that is not a valid glob.
	ErrInvalidPattern = errors.New("invalid skip pattern")

	// ErrGitignore is returned when .gitignore rules cannot be loaded.
	ErrGitignore = errors.New("failed to load .gitignore rules")
)
