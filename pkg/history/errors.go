package history

import "errors"

// Common errors returned by history stores.
var (
	// ErrNoRecords is returned by Last on an empty store.
	ErrNoRecords = errors.New("no run records")

	// ErrInvalidID is returned when a record ID is not a KSUID.
	ErrInvalidID = errors.New("invalid record ID")

	// ErrInvalidRecord is returned for a nil record.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("history store is closed")
)
