package aggregator

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/0xmhha/dose/pkg/history"
)

// aggregator implements the Aggregator interface.
type aggregator struct {
	config Config

	mu     sync.RWMutex
	total  *group            // Overall statistics
	groups map[string]*group // Grouped statistics
}

// group holds statistics for a specific dimension combination.
type group struct {
	durations []time.Duration
	sum       time.Duration
	stats     Statistics
}

// New creates a new aggregator.
func New(cfg Config) Aggregator {
	return &aggregator{
		config: cfg,
		total:  &group{},
		groups: make(map[string]*group),
	}
}

// Add implements Aggregator.Add.
func (a *aggregator) Add(rec *history.Record) {
	if rec == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.update(a.total, rec)

	if len(a.config.GroupBy) > 0 {
		key := a.dimensionKey(rec)
		g, exists := a.groups[key]
		if !exists {
			g = &group{}
			a.groups[key] = g
		}
		a.update(g, rec)
	}
}

// Stats implements Aggregator.Stats.
func (a *aggregator) Stats() Statistics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.finalize(a.total)
}

// GroupedStats implements Aggregator.GroupedStats.
func (a *aggregator) GroupedStats() map[string]Statistics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make(map[string]Statistics, len(a.groups))
	for key, g := range a.groups {
		result[key] = a.finalize(g)
	}
	return result
}

// Reset implements Aggregator.Reset.
func (a *aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total = &group{}
	a.groups = make(map[string]*group)
}

// update folds a record into a group.
func (a *aggregator) update(g *group, rec *history.Record) {
	stats := &g.stats
	stats.Count++

	switch rec.Outcome {
	case history.OutcomeSuccess:
		stats.Successes++
	case history.OutcomeFailure:
		stats.Failures++
	case history.OutcomeKilled:
		stats.Killed++
	case history.OutcomeAborted:
		stats.Aborted++
	}

	if !rec.StartedAt.IsZero() {
		if stats.FirstSeen.IsZero() || rec.StartedAt.Before(stats.FirstSeen) {
			stats.FirstSeen = rec.StartedAt
		}
		if stats.LastSeen.IsZero() || rec.StartedAt.After(stats.LastSeen) {
			stats.LastSeen = rec.StartedAt
		}
	}

	if rec.Outcome != history.OutcomeSuccess && rec.Outcome != history.OutcomeFailure {
		return
	}

	d := rec.Duration
	g.sum += d
	if stats.Completed() == 1 {
		stats.MinDuration = d
		stats.MaxDuration = d
	} else {
		if d < stats.MinDuration {
			stats.MinDuration = d
		}
		if d > stats.MaxDuration {
			stats.MaxDuration = d
		}
	}

	if a.config.TrackPercentiles {
		g.durations = append(g.durations, d)
	}
}

// finalize derives averages, rates and percentiles.
func (a *aggregator) finalize(g *group) Statistics {
	stats := g.stats

	if completed := stats.Completed(); completed > 0 {
		stats.PassRate = float64(stats.Successes) / float64(completed)
		stats.AvgDuration = g.sum / time.Duration(completed)
	}

	if a.config.TrackPercentiles && len(g.durations) > 0 {
		sorted := make([]time.Duration, len(g.durations))
		copy(sorted, g.durations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		stats.P50Duration = percentile(sorted, 50)
		stats.P95Duration = percentile(sorted, 95)
		stats.P99Duration = percentile(sorted, 99)
	}

	return stats
}

// dimensionKey creates a unique key for the configured dimensions.
func (a *aggregator) dimensionKey(rec *history.Record) string {
	parts := make([]string, 0, len(a.config.GroupBy))
	for _, dim := range a.config.GroupBy {
		switch dim {
		case DimCommand:
			parts = append(parts, rec.Command)
		case DimDir:
			parts = append(parts, rec.Dir)
		case DimDate:
			parts = append(parts, rec.StartedAt.Local().Format("2006-01-02"))
		case DimOutcome:
			parts = append(parts, string(rec.Outcome))
		}
	}
	return strings.Join(parts, "|")
}

// percentile calculates the nth percentile of a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation between closest ranks.
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(rank)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[lower]
	}

	fraction := rank - float64(lower)
	return time.Duration(float64(sorted[lower])*(1-fraction) + float64(sorted[upper])*fraction)
}
