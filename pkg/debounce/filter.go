package debounce

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/0xmhha/dose/pkg/logger"
	"github.com/0xmhha/dose/pkg/watcher"
	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// Reason explains why an event was rejected.
type Reason string

// Rejection reasons. ReasonNone means the event is accepted.
const (
	ReasonNone        Reason = ""
	ReasonDirectory   Reason = "directory"
	ReasonSkipPattern Reason = "skip pattern"
	ReasonGitignore   Reason = "gitignore"
	ReasonSelfTrigger Reason = "self-trigger"
)

// FilterConfig configures a Filter.
type FilterConfig struct {
	// Root is the watched directory; needed for .gitignore lookups.
	Root string

	// SkipPatterns is a ';'-separated glob list matched against event
	// paths relative to Root. Patterns without '/' also match the base name.
	SkipPatterns string

	// RespectGitignore drops paths ignored by .gitignore files under Root.
	RespectGitignore bool
}

// Filter is the event predicate. It is immutable once built.
type Filter struct {
	root     string
	patterns []string
	ignore   gitignore.GitIgnore
	logger   logger.Logger
}

// ParsePatterns splits a ';'-separated pattern list, trimming blanks and
// dropping empty entries.
func ParsePatterns(list string) []string {
	var patterns []string
	for _, p := range strings.Split(list, ";") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, filepath.ToSlash(p))
		}
	}
	return patterns
}

// NewFilter validates the skip patterns and loads .gitignore rules if asked.
func NewFilter(cfg FilterConfig, log logger.Logger) (*Filter, error) {
	patterns := ParsePatterns(cfg.SkipPatterns)
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
	}

	f := &Filter{
		root:     cfg.Root,
		patterns: patterns,
		logger:   log,
	}

	if cfg.RespectGitignore {
		ignore, err := gitignore.NewRepository(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGitignore, err)
		}
		f.ignore = ignore
	}

	log.Debug("event filter created",
		"patterns", len(patterns),
		"gitignore", cfg.RespectGitignore)

	return f, nil
}

// Patterns returns the parsed skip patterns.
func (f *Filter) Patterns() []string {
	return append([]string(nil), f.patterns...)
}

// ShouldConsider reports whether ev may trigger a run. guard may be nil.
func (f *Filter) ShouldConsider(ev watcher.Event, guard *Guard) bool {
	return f.Reject(ev, guard) == ReasonNone
}

// Reject returns why ev is dropped, or ReasonNone when it is accepted.
func (f *Filter) Reject(ev watcher.Event, guard *Guard) Reason {
	switch {
	case ev.IsDir:
		return ReasonDirectory
	case f.Skipped(ev.Path):
		return ReasonSkipPattern
	case f.gitignored(ev):
		return ReasonGitignore
	case guard.Contains(ev.Path):
		return ReasonSelfTrigger
	default:
		return ReasonNone
	}
}

// Skipped reports whether the slash-separated relative path matches a
// skip pattern.
func (f *Filter) Skipped(rel string) bool {
	base := path.Base(rel)
	for _, p := range f.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}

func (f *Filter) gitignored(ev watcher.Event) bool {
	if f.ignore == nil {
		return false
	}
	abs := ev.AbsPath
	if abs == "" {
		abs = filepath.Join(f.root, filepath.FromSlash(ev.Path))
	}
	match := f.ignore.Absolute(abs, ev.IsDir)
	return match != nil && match.Ignore()
}
