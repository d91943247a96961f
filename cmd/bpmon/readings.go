package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bpmon/internal/reading"
	"github.com/srg/bpmon/internal/store"
)

// readingsCmd represents the readings command
var readingsCmd = &cobra.Command{
	Use:   "readings",
	Short: "Show bucketed reading history",
	Long: `Prints averaged readings over a time range. Each row is the rounded mean of
the readings in one bucket, stamped with the bucket start.

Presets:
  day    last 24h in 1h buckets
  week   last 7 days in 1 day buckets
  month  last 30 days in 7 day buckets

Examples:
  bpmon readings --preset week
  bpmon readings --from 2026-10-01T00:00:00Z --to 2026-10-02T00:00:00Z --bucket 30m
  bpmon readings --seed history.csv --preset month --format json`,
	Args: cobra.NoArgs,
	RunE: runReadings,
}

var (
	readingsPreset string
	readingsFrom   string
	readingsTo     string
	readingsBucket time.Duration
	readingsFormat string
	readingsSeed   string
)

func init() {
	readingsCmd.Flags().StringVarP(&readingsPreset, "preset", "p", "day", "Range preset (day, week, month)")
	readingsCmd.Flags().StringVar(&readingsFrom, "from", "", "Range start (RFC3339); overrides --preset")
	readingsCmd.Flags().StringVar(&readingsTo, "to", "", "Range end (RFC3339, defaults to now)")
	readingsCmd.Flags().DurationVar(&readingsBucket, "bucket", time.Hour, "Bucket width for --from/--to ranges")
	readingsCmd.Flags().StringVarP(&readingsFormat, "format", "f", "table", "Output format (table, json)")
	addSeedFlag(readingsCmd, &readingsSeed)
}

// addSeedFlag registers --seed, which loads a CSV into the store before the
// command runs. With the memory store it is the only way to have history.
func addSeedFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "seed", "", "CSV file (timestamp,systolic,diastolic) to load first")
}

func seedFrom(ctx context.Context, s store.Store, path string, mode store.LoadMode) (int, error) {
	if path == "" {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return store.LoadCSV(ctx, s, f, mode)
}

// queryRange resolves the flags into a [start, end] range and bucket width.
func queryRange() (start, end int64, bucket time.Duration, err error) {
	if readingsFrom == "" {
		if readingsTo != "" {
			return 0, 0, 0, fmt.Errorf("--to requires --from")
		}
		p, err := reading.PresetByName(readingsPreset)
		if err != nil {
			return 0, 0, 0, err
		}
		start, end = p.Range(now())
		return start, end, p.Bucket, nil
	}

	from, err := time.Parse(time.RFC3339, readingsFrom)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid --from: %w", err)
	}
	to := now()
	if readingsTo != "" {
		if to, err = time.Parse(time.RFC3339, readingsTo); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return from.UnixMilli(), to.UnixMilli(), readingsBucket, nil
}

func runReadings(cmd *cobra.Command, _ []string) error {
	if readingsFormat != "table" && readingsFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", readingsFormat)
	}
	start, end, bucket, err := queryRange()
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	return withStore(ctx, cfg, logger, func(s store.Store) error {
		if _, err := seedFrom(ctx, s, readingsSeed, store.ModeAppend); err != nil {
			return err
		}
		rs, err := reading.AveragedReadings(ctx, s, start, end, bucket)
		if err != nil {
			return err
		}
		if readingsFormat == "json" {
			return displayReadingsJSON(cmd.OutOrStdout(), rs)
		}
		return displayReadingsTable(cmd.OutOrStdout(), rs)
	})
}

func displayReadingsTable(out io.Writer, rs []store.Reading) error {
	if len(rs) == 0 {
		fmt.Fprintln(out, "No readings in range")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSYSTOLIC\tDIASTOLIC")
	fmt.Fprintln(w, strings.Repeat("-", 44))
	for _, r := range rs {
		fmt.Fprintf(w, "%s\t%d\t%d\n", formatTimestamp(r.Timestamp), r.Systolic, r.Diastolic)
	}
	return w.Flush()
}

func displayReadingsJSON(out io.Writer, rs []store.Reading) error {
	if rs == nil {
		rs = []store.Reading{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rs)
}
