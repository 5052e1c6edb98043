package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/0xmhha/dose/pkg/history"
	"github.com/urfave/cli/v3"
)

// defaultHistoryCount is how many runs `dose history` lists without N.
const defaultHistoryCount = 10

func newHistoryCommand(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "list recent runs, newest first",
		ArgsUsage: "[N]",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print records as JSON",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "list every stored run",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			count, err := parseHistoryCount(cmd.Args().First())
			if err != nil {
				return err
			}
			if cmd.Bool("all") {
				count = 0
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			store, err := history.New(history.Config{DBPath: cfg.Storage.DBPath}, log.Named("history"))
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Error("failed to close run history", "error", err)
				}
			}()

			records, err := store.List(count)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if cmd.Bool("json") {
				return writeHistoryJSON(env.stdout, records)
			}
			return writeHistoryTable(env.stdout, records)
		},
	}
}

// parseHistoryCount parses the optional N argument.
func parseHistoryCount(arg string) (int, error) {
	if arg == "" {
		return defaultHistoryCount, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid run count %q: must be a positive integer", arg)
	}
	return n, nil
}

func writeHistoryJSON(w io.Writer, records []*history.Record) error {
	if records == nil {
		records = []*history.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode runs: %w", err)
	}
	return nil
}

// writeHistoryTable renders records as a table.
func writeHistoryTable(w io.Writer, records []*history.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "STARTED\tSEQ\tOUTCOME\tEXIT\tDURATION\tTRIGGER\tCOMMAND"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := fmt.Fprintln(tw, "-------\t---\t-------\t----\t--------\t-------\t-------"); err != nil {
		return fmt.Errorf("failed to write header separator: %w", err)
	}

	for _, rec := range records {
		if _, err := fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			formatStartTime(rec.StartedAt),
			rec.Seq,
			rec.Outcome,
			formatExitCode(rec),
			formatDuration(rec),
			formatRecordTrigger(rec),
			formatCommand(rec.Command)); err != nil {
			return fmt.Errorf("failed to write run: %w", err)
		}
	}

	return tw.Flush()
}

func formatStartTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatExitCode(rec *history.Record) string {
	switch rec.Outcome {
	case history.OutcomeSuccess, history.OutcomeFailure:
		return strconv.Itoa(rec.ExitCode)
	default:
		return "-"
	}
}

func formatDuration(rec *history.Record) string {
	if rec.Duration <= 0 {
		return "-"
	}
	return rec.Duration.Round(time.Millisecond).String()
}

// formatRecordTrigger describes what started rec. Records without a run
// (an abort between runs) have no trigger.
func formatRecordTrigger(rec *history.Record) string {
	if rec.Seq == 0 && len(rec.Paths) == 0 {
		return "-"
	}
	return formatTrigger(rec.Paths, 30)
}

func formatCommand(command string) string {
	if command == "" {
		return "-"
	}
	return command
}

// formatTrigger joins the trigger paths, truncated to maxLen.
func formatTrigger(paths []string, maxLen int) string {
	if len(paths) == 0 {
		return "(first call)"
	}
	s := strings.Join(paths, ",")
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
