// Package history keeps a persistent log of finished runs.
//
// Records carry a KSUID and are keyed by an insertion sequence, so the
// natural key order of the store is the order in which runs were recorded.
// The BoltDB store holds the database only while an operation runs, so
// several processes can share one history file. A Recorder plugs the
// store into a watch session as an observer.
//
// Example usage:
//
//	store, err := history.New(history.Config{
//	    DBPath: "~/.config/dose/history.db",
//	    Limit:  200,
//	}, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	recent, err := store.List(10)
package history

import "time"

// Outcome is how a run ended.
type Outcome string

// Run outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeKilled  Outcome = "killed"
	OutcomeAborted Outcome = "aborted"
)

// Record is one finished run.
type Record struct {
	// ID is a KSUID. Generated by Append when empty.
	ID string `json:"id"`

	// Seq is the run number within its watch session.
	Seq int `json:"seq"`

	Dir     string `json:"dir"`
	Command string `json:"command"`

	Outcome  Outcome `json:"outcome"`
	ExitCode int     `json:"exit_code"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Paths are the changed files that triggered the run; empty for the
	// startup run.
	Paths []string `json:"paths,omitempty"`

	// Error is set for aborted runs.
	Error string `json:"error,omitempty"`
}

// Store persists run records.
type Store interface {
	// Append stores rec, assigning an ID when it has none.
	//
	// Returns ErrInvalidRecord for a nil record and ErrInvalidID for an
	// ID that is not a KSUID.
	Append(rec *Record) error

	// List returns up to limit records, newest first. A limit <= 0
	// returns everything.
	List(limit int) ([]*Record, error)

	// Last returns the newest record or ErrNoRecords.
	Last() (*Record, error)

	// Prune deletes all but the newest keep records and returns how
	// many were deleted.
	Prune(keep int) (int, error)

	// Close releases the store.
	Close() error
}

// Config contains history store configuration.
type Config struct {
	// DBPath is the BoltDB file path. A leading ~ is expanded.
	DBPath string

	// Timeout is the time each operation waits for the database lock
	// (default: 1 second).
	Timeout time.Duration

	// Limit caps the number of kept records; older ones are pruned on
	// Append. Zero keeps everything.
	Limit int
}
