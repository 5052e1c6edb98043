package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"al.essio.dev/pkg/shellescape"
	"github.com/0xmhha/dose/pkg/config"
	"github.com/0xmhha/dose/pkg/console"
	"github.com/0xmhha/dose/pkg/history"
	"github.com/0xmhha/dose/pkg/runner"
	"github.com/0xmhha/dose/pkg/watch"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v3"
)

// errNoResume is returned when watching aborted and stdin closed before
// the user asked to resume.
var errNoResume = errors.New("watching aborted and stdin is closed")

// watchOptions is a fully resolved watch invocation.
type watchOptions struct {
	cfg       *config.Config
	noHistory bool
}

func newWatchCommand(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "watch a directory and run a command on every change",
		ArgsUsage: "[--] <command>",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "directory to watch, also the command's working directory",
			},
			&cli.StringFlag{
				Name:    "skip",
				Aliases: []string{"s"},
				Usage:   "semicolon-separated glob patterns to ignore",
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "quiet period after the last change before running",
			},
			&cli.BoolFlag{
				Name:  "leading-edge",
				Usage: "run on the first change after a quiet period, then debounce the rest",
			},
			&cli.BoolFlag{
				Name:  "gitignore",
				Usage: "also ignore paths matched by .gitignore files",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file exported to the command",
			},
			&cli.StringFlag{
				Name:  "color",
				Usage: "colour mode: auto, always or never",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "do not record runs",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts, err := parseWatchOptions(cmd)
			if err != nil {
				return err
			}
			return env.runWatch(ctx, env, opts)
		},
	}
}

// parseWatchOptions applies command-line flags and arguments over the
// loaded configuration.
func parseWatchOptions(cmd *cli.Command) (watchOptions, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return watchOptions{}, err
	}

	if cmd.IsSet("dir") {
		cfg.Watch.Directory = cmd.String("dir")
	}
	if cmd.IsSet("skip") {
		cfg.Watch.SkipPatterns = cmd.String("skip")
	}
	if cmd.IsSet("debounce") {
		cfg.Timing.DebounceWindow = cmd.Duration("debounce")
	}
	if cmd.IsSet("leading-edge") {
		cfg.Timing.LeadingEdge = cmd.Bool("leading-edge")
	}
	if cmd.IsSet("gitignore") {
		cfg.Watch.RespectGitignore = cmd.Bool("gitignore")
	}
	if cmd.IsSet("env-file") {
		cfg.Watch.EnvFile = cmd.String("env-file")
	}
	if cmd.IsSet("color") {
		cfg.Console.Color = strings.ToLower(cmd.String("color"))
	}
	if args := cmd.Args().Slice(); len(args) > 0 {
		cfg.Watch.Command = commandLine(args)
	}

	if err := cfg.Validate(); err != nil {
		return watchOptions{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if strings.TrimSpace(cfg.Watch.Command) == "" {
		return watchOptions{}, watch.ErrEmptyCommand
	}

	return watchOptions{
		cfg:       cfg,
		noHistory: cmd.Bool("no-history") || cfg.Storage.Disabled,
	}, nil
}

// commandLine turns positional arguments into a shell command. A single
// argument is taken as a complete shell string so pipes and && survive;
// several arguments are quoted individually.
func commandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return shellescape.QuoteCommand(args)
}

// runWatch runs the watch loop until SIGINT/SIGTERM or ctx is done. After
// an abort it waits for Enter on stdin and starts watching again.
func runWatch(ctx context.Context, env *appEnv, opts watchOptions) error {
	cfg := opts.cfg
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	colorMode, err := console.ParseColorMode(cfg.Console.Color)
	if err != nil {
		return err
	}
	con := console.New(console.Config{
		Out:   env.stdout,
		Color: colorMode,
		Width: cfg.Console.Width,
	}, log.Named("console"))

	aborted := make(chan error, 1)
	observers := watch.Observers{con}

	if !opts.noHistory {
		store, err := history.New(history.Config{
			DBPath: cfg.Storage.DBPath,
			Limit:  cfg.Storage.HistoryLimit,
		}, log.Named("history"))
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error("failed to close run history", "error", err)
			}
		}()
		observers = append(observers, history.NewRecorder(store, log.Named("history")))
	}

	observers = append(observers, watch.ObserverFuncs{
		Aborted: func(err error) {
			select {
			case aborted <- err:
			default:
			}
		},
	})

	ctrl := watch.New(watch.Config{
		Debounce:      cfg.Timing.DebounceWindow,
		LeadingEdge:   cfg.Timing.LeadingEdge,
		PreSpawnDelay: cfg.Timing.PreSpawnDelay,
		KillDelay:     cfg.Timing.KillDelay,
		Runner: runner.Config{
			Stdout:       env.stdout,
			Stderr:       con.StderrWriter(env.stderr),
			Columns:      con.Width(),
			DrainTimeout: cfg.Timing.DrainTimeout,
			KillGrace:    cfg.Timing.KillGrace,
		},
	}, watch.Deps{Observer: observers}, log)

	req := watch.Request{
		Dir:              cfg.Watch.Directory,
		Command:          cfg.Watch.Command,
		SkipPatterns:     cfg.Watch.SkipPatterns,
		RespectGitignore: cfg.Watch.RespectGitignore,
		EnvFile:          cfg.Watch.EnvFile,
	}

	if err := ctrl.Start(req); err != nil {
		return err
	}
	defer ctrl.Stop()

	stdin := bufio.NewReader(env.stdin)

	for {
		select {
		case <-ctx.Done():
			con.Message(termenv.ANSIYellow, "[Dose] Stopped")
			return nil

		case err := <-aborted:
			log.Warn("watching aborted, waiting for resume", "error", err)
			con.Message(termenv.ANSIYellow, "[Dose] Press Enter to resume watching, Ctrl+C to quit")

			select {
			case <-ctx.Done():
				return nil
			case readErr := <-waitForEnter(stdin):
				if readErr != nil {
					return fmt.Errorf("%w: %v", errNoResume, err)
				}
			}

			if err := ctrl.Start(req); err != nil {
				return err
			}
		}
	}
}

// waitForEnter reads one line in the background. A read error, such as
// EOF on a closed stdin, is delivered instead.
func waitForEnter(r *bufio.Reader) <-chan error {
	ch := make(chan error, 1)
	go func() {
		_, err := r.ReadString('\n')
		ch <- err
	}()
	return ch
}
