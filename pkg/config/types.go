// Package config provides configuration management for dose.
//
// Configuration is loaded from multiple sources with the following precedence:
// 1. Command-line flags (highest priority)
// 2. Environment variables
// 3. Configuration file
// 4. Default values (lowest priority)
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("watching %s\n", cfg.Watch.Directory)
package config

import (
	"time"

	"github.com/0xmhha/dose/pkg/debounce"
	"github.com/0xmhha/dose/pkg/logger"
)

// Config represents the complete application configuration.
//
// Invariants:
// - Watch.Directory must not be empty
// - Timing durations must be >= 0
// - Console.Width must be >= 0
// - Storage.HistoryLimit must be >= 0.
type Config struct {
	// What to watch and run
	Watch WatchConfig `yaml:"watch"`

	// Debounce and process timing
	Timing TimingConfig `yaml:"timing"`

	// Terminal output settings
	Console ConsoleConfig `yaml:"console"`

	// Run history storage
	Storage StorageConfig `yaml:"storage"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`
}

// WatchConfig contains the directory and command to watch.
type WatchConfig struct {
	// Directory to watch; the command runs there
	Directory string `yaml:"directory"`

	// Shell command executed on every change
	Command string `yaml:"command"`

	// Semicolon-separated skip patterns
	SkipPatterns string `yaml:"skip_patterns"`

	// Also skip paths ignored by .gitignore files
	RespectGitignore bool `yaml:"respect_gitignore"`

	// Optional .env file, relative to Directory, exported to the command
	EnvFile string `yaml:"env_file"`
}

// TimingConfig contains timing settings.
type TimingConfig struct {
	// Quiet period after the last change before a run starts
	DebounceWindow time.Duration `yaml:"debounce_window"`

	// Run on the first change after a quiet period instead of waiting
	LeadingEdge bool `yaml:"leading_edge"`

	// Delay between run creation and spawning
	PreSpawnDelay time.Duration `yaml:"pre_spawn_delay"`

	// Minimum time a spawned process lives before it may be killed
	KillDelay time.Duration `yaml:"kill_delay"`

	// How long output is drained after the command exited
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// How long a terminated command may take to exit before it is killed
	KillGrace time.Duration `yaml:"kill_grace"`
}

// ConsoleConfig contains terminal output settings.
type ConsoleConfig struct {
	// Colour mode (auto, always, never)
	Color string `yaml:"color"`

	// Line width, 0 to detect
	Width int `yaml:"width"`
}

// StorageConfig contains storage-related settings.
type StorageConfig struct {
	// Path to BoltDB database file
	DBPath string `yaml:"db_path"`

	// Maximum number of runs kept, 0 for unlimited
	HistoryLimit int `yaml:"history_limit"`

	// Disable run history entirely
	Disabled bool `yaml:"disabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level"`

	// Log output destination (stdout, stderr, file path)
	Output string `yaml:"output"`

	// Log format (text, json)
	Format string `yaml:"format"`
}

// Validate checks if the configuration satisfies all invariants.
//
// Returns an error if any invariant is violated:
//   - No watch directory
//   - Negative durations
//   - Unknown colour mode or negative width
//   - Negative history limit
//   - Invalid log level or format
//
// An empty command is not an error here; it is only required when watching.
//
// Thread-safety: This method is read-only and thread-safe.
func (c *Config) Validate() error {
	if c.Watch.Directory == "" {
		return ErrNoDirectory
	}

	// Validate timing config
	if c.Timing.DebounceWindow < 0 {
		return ErrInvalidDebounceWindow
	}
	if c.Timing.PreSpawnDelay < 0 {
		return ErrInvalidPreSpawnDelay
	}
	if c.Timing.KillDelay < 0 {
		return ErrInvalidKillDelay
	}
	if c.Timing.DrainTimeout < 0 {
		return ErrInvalidDrainTimeout
	}
	if c.Timing.KillGrace < 0 {
		return ErrInvalidKillGrace
	}

	// Validate console config
	validColors := map[string]bool{
		"auto":   true,
		"always": true,
		"never":  true,
	}
	if !validColors[c.Console.Color] {
		return ErrInvalidColorMode
	}
	if c.Console.Width < 0 {
		return ErrInvalidWidth
	}

	if c.Storage.HistoryLimit < 0 {
		return ErrInvalidHistoryLimit
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return ErrInvalidLogLevel
	}
	if _, err := logger.ParseFormat(c.Logging.Format); err != nil {
		return ErrInvalidLogFormat
	}

	return nil
}

// Default returns a configuration with sensible default values.
func Default() *Config {
	return &Config{
		Watch: WatchConfig{
			Directory:    ".",
			SkipPatterns: debounce.DefaultSkipPatterns,
		},
		Timing: TimingConfig{
			DebounceWindow: 200 * time.Millisecond,
			PreSpawnDelay:  10 * time.Millisecond,
			KillDelay:      50 * time.Millisecond,
			DrainTimeout:   1 * time.Second,
			KillGrace:      2 * time.Second,
		},
		Console: ConsoleConfig{
			Color: "auto",
		},
		Storage: StorageConfig{
			DBPath:       defaultDBPath(),
			HistoryLimit: 200,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Output: "stderr",
			Format: "text",
		},
	}
}
