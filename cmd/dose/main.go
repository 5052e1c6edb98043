// Package main provides the dose CLI application.
//
// Dose watches a directory and runs a shell command, usually a test
// suite, whenever something in it changes. A change arriving while the
// command still runs kills it and starts over.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/0xmhha/dose/pkg/config"
	"github.com/0xmhha/dose/pkg/logger"
	"github.com/urfave/cli/v3"
)

// version is set during build time.
var version = "dev"

func main() {
	app := newApp(defaultEnv())
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// appEnv carries the process streams and the watch entry point so tests
// can drive commands without a terminal.
type appEnv struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// runWatch executes a parsed watch command.
	runWatch func(ctx context.Context, env *appEnv, opts watchOptions) error
}

func defaultEnv() *appEnv {
	return &appEnv{
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		runWatch: runWatch,
	}
}

// newApp builds the root command.
func newApp(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "dose",
		Usage:     "re-run a command whenever files change",
		Version:   version,
		Reader:    env.stdin,
		Writer:    env.stdout,
		ErrWriter: env.stderr,
		Commands: []*cli.Command{
			newWatchCommand(env),
			newHistoryCommand(env),
			newStatsCommand(env),
			newConfigCommand(env),
		},
	}
}

// configFlag is shared by all sub-commands.
func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to configuration file",
	}
}

// loadConfig loads configuration from --config or the default locations.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.NewLoader(cmd.String("config")).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Output: cfg.Logging.Output,
		Format: cfg.Logging.Format,
	})
}
