// Package aggregator computes run statistics from history records.
//
// It aggregates outcomes and durations overall and per dimension
// (command, directory, date, outcome).
//
// Example usage:
//
//	agg := aggregator.New(aggregator.Config{
//	    GroupBy:          []aggregator.Dimension{aggregator.DimCommand},
//	    TrackPercentiles: true,
//	})
//
//	for _, rec := range records {
//	    agg.Add(rec)
//	}
//
//	stats := agg.Stats()
//	fmt.Printf("pass rate: %.0f%%\n", stats.PassRate*100)
package aggregator

import (
	"strings"
	"time"

	"github.com/0xmhha/dose/pkg/history"
)

// Dimension represents an aggregation dimension.
type Dimension string

const (
	// DimCommand aggregates by command line.
	DimCommand Dimension = "command"

	// DimDir aggregates by watched directory.
	DimDir Dimension = "dir"

	// DimDate aggregates by start date (YYYY-MM-DD).
	DimDate Dimension = "date"

	// DimOutcome aggregates by run outcome.
	DimOutcome Dimension = "outcome"
)

// ParseDimensions parses a comma-separated dimension list.
func ParseDimensions(s string) ([]Dimension, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var dims []Dimension
	for _, part := range strings.Split(s, ",") {
		dim := Dimension(strings.ToLower(strings.TrimSpace(part)))
		switch dim {
		case DimCommand, DimDir, DimDate, DimOutcome:
			dims = append(dims, dim)
		default:
			return nil, ErrInvalidDimension
		}
	}
	return dims, nil
}

// Aggregator computes run statistics.
type Aggregator interface {
	// Add adds a record. Nil records are ignored.
	Add(rec *history.Record)

	// Stats returns statistics across all records.
	Stats() Statistics

	// GroupedStats returns statistics keyed by the configured dimension
	// values joined with "|".
	GroupedStats() map[string]Statistics

	// Reset clears all aggregated data.
	Reset()
}

// Statistics contains aggregated run statistics.
type Statistics struct {
	// Count is the number of runs.
	Count int

	// Per-outcome counts.
	Successes int
	Failures  int
	Killed    int
	Aborted   int

	// PassRate is Successes over completed runs (successes and
	// failures), 0 when nothing completed.
	PassRate float64

	// Duration statistics over completed runs.
	AvgDuration time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration

	// Percentiles, when tracked.
	P50Duration time.Duration
	P95Duration time.Duration
	P99Duration time.Duration

	// FirstSeen and LastSeen bound the run start times.
	FirstSeen time.Time
	LastSeen  time.Time
}

// Completed returns the number of runs that exited on their own.
func (s Statistics) Completed() int {
	return s.Successes + s.Failures
}

// Config contains aggregator configuration.
type Config struct {
	// GroupBy specifies aggregation dimensions.
	//
	// Default: no grouping (overall stats only).
	GroupBy []Dimension

	// TrackPercentiles enables percentile calculation.
	//
	// Percentile calculation keeps every duration in memory.
	TrackPercentiles bool
}
