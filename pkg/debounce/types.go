// Package debounce turns a bursty stream of filesystem events into
// single "re-run" triggers.
//
// Filter decides which events matter: directory events, skip-pattern
// matches, .gitignore'd paths and paths already recorded in the
// self-trigger Guard are dropped. Debouncer collects accepted events and
// emits one Trigger once the quiet window elapsed with no new event.
//
// Debouncer and Guard are not safe for concurrent use; they belong to the
// goroutine that consumes events (the watch control loop).
package debounce

import (
	"sort"
	"time"

	"github.com/0xmhha/dose/pkg/watcher"
)

// DefaultWindow is the default quiet window.
const DefaultWindow = 200 * time.Millisecond

// DefaultSkipPatterns lists paths that never trigger a run: compiled
// Python files, VCS metadata, caches, dotfiles, editor backups and Qt
// temp files.
const DefaultSkipPatterns = "*.pyc; *.pyo; **/.git/**; **/__pycache__/**; __pycache__; .*; *~; qt_temp.*"

// Trigger is one logical "something changed" signal.
type Trigger struct {
	// Synthetic is true for the startup trigger, which has no events.
	Synthetic bool

	// Events are the accepted events coalesced into this trigger, oldest first.
	Events []watcher.Event

	// At is when the trigger was emitted.
	At time.Time
}

// Last returns the most recent event of the trigger.
func (t Trigger) Last() (watcher.Event, bool) {
	if len(t.Events) == 0 {
		return watcher.Event{}, false
	}
	return t.Events[len(t.Events)-1], true
}

// Paths returns the distinct event paths in arrival order.
func (t Trigger) Paths() []string {
	seen := make(map[string]bool, len(t.Events))
	paths := make([]string, 0, len(t.Events))
	for _, ev := range t.Events {
		if seen[ev.Path] {
			continue
		}
		seen[ev.Path] = true
		paths = append(paths, ev.Path)
	}
	return paths
}

// Guard is the set of paths that triggered the run in flight. Events for
// these paths are treated as the run's own writes.
type Guard struct {
	paths map[string]struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{paths: make(map[string]struct{})}
}

// Add records path.
func (g *Guard) Add(path string) {
	g.paths[path] = struct{}{}
}

// Contains reports whether path was recorded. A nil guard contains nothing.
func (g *Guard) Contains(path string) bool {
	if g == nil {
		return false
	}
	_, ok := g.paths[path]
	return ok
}

// Clear forgets every path.
func (g *Guard) Clear() {
	for p := range g.paths {
		delete(g.paths, p)
	}
}

// Len returns the number of recorded paths.
func (g *Guard) Len() int {
	if g == nil {
		return 0
	}
	return len(g.paths)
}

// Paths returns the recorded paths, sorted.
func (g *Guard) Paths() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.paths))
	for p := range g.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
