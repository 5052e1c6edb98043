package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/0xmhha/dose/pkg/aggregator"
	"github.com/0xmhha/dose/pkg/history"
	"github.com/urfave/cli/v3"
)

func newStatsCommand(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "summarize recorded runs",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "group-by",
				Usage: "group by dimensions (comma-separated: command,dir,date,outcome)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dims, err := aggregator.ParseDimensions(cmd.String("group-by"))
			if err != nil {
				return err
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

			records, err := store.List(0)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			agg := aggregator.New(aggregator.Config{GroupBy: dims, TrackPercentiles: true})
			for _, rec := range records {
				agg.Add(rec)
			}

			if len(dims) > 0 {
				return writeGroupedStats(env.stdout, dims, agg.GroupedStats())
			}
			return writeStats(env.stdout, agg.Stats())
		},
	}
}

// writeStats renders overall statistics as a metric/value table.
func writeStats(w io.Writer, stats aggregator.Statistics) error {
	if stats.Count == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Runs", fmt.Sprint(stats.Count)},
		{"Passed", fmt.Sprint(stats.Successes)},
		{"Failed", fmt.Sprint(stats.Failures)},
		{"Killed", fmt.Sprint(stats.Killed)},
		{"Aborted", fmt.Sprint(stats.Aborted)},
		{"Pass rate", formatRate(stats)},
		{"Avg duration", formatStatDuration(stats.AvgDuration, stats)},
		{"Min / Max", formatStatDuration(stats.MinDuration, stats) + " / " + formatStatDuration(stats.MaxDuration, stats)},
		{"P50 / P95 / P99", strings.Join([]string{
			formatStatDuration(stats.P50Duration, stats),
			formatStatDuration(stats.P95Duration, stats),
			formatStatDuration(stats.P99Duration, stats),
		}, " / ")},
		{"First run", formatStartTime(stats.FirstSeen)},
		{"Last run", formatStartTime(stats.LastSeen)},
	}

	if _, err := fmt.Fprintln(tw, "METRIC\tVALUE"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1]); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return tw.Flush()
}

// writeGroupedStats renders one row per group, sorted by key.
func writeGroupedStats(w io.Writer, dims []aggregator.Dimension, grouped map[string]aggregator.Statistics) error {
	if len(grouped) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}

	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	header := make([]string, 0, len(dims)+4)
	for _, dim := range dims {
		header = append(header, strings.ToUpper(string(dim)))
	}
	header = append(header, "RUNS", "PASS RATE", "AVG", "P95")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(header, "\t")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, key := range keys {
		stats := grouped[key]
		row := append(strings.Split(key, "|"),
			fmt.Sprint(stats.Count),
			formatRate(stats),
			formatStatDuration(stats.AvgDuration, stats),
			formatStatDuration(stats.P95Duration, stats))
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return tw.Flush()
}

func formatRate(stats aggregator.Statistics) string {
	if stats.Completed() == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", stats.PassRate*100)
}

func formatStatDuration(d time.Duration, stats aggregator.Statistics) string {
	if stats.Completed() == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
