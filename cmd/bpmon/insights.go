package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/bpmon/internal/insight"
	"github.com/srg/bpmon/internal/reading"
	"github.com/srg/bpmon/internal/store"
)

// insightsCmd represents the insights command
var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Summarize recent readings into health insights",
	Long: `Analyzes the readings of a preset range: averages, variability, a stress
score and the estimator's risk score, followed by the insights derived from
them.`,
	Args: cobra.NoArgs,
	RunE: runInsights,
}

var (
	insightsPreset string
	insightsSeed   string
)

func init() {
	insightsCmd.Flags().StringVarP(&insightsPreset, "preset", "p", "week", "Range preset (day, week, month)")
	addSeedFlag(insightsCmd, &insightsSeed)
}

func runInsights(cmd *cobra.Command, _ []string) error {
	preset, err := reading.PresetByName(insightsPreset)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	est, closeEstimator, err := newEstimator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeEstimator()

	ctx := cmd.Context()
	return withStore(ctx, cfg, logger, func(s store.Store) error {
		if _, err := seedFrom(ctx, s, insightsSeed, store.ModeAppend); err != nil {
			return err
		}
		start, end := preset.Range(now())
		rs, err := s.GetRange(ctx, start, end)
		if err != nil {
			return err
		}
		summary, err := insight.Analyze(ctx, rs, est)
		if err != nil {
			return err
		}
		displaySummary(cmd.OutOrStdout(), preset, len(rs), summary)
		return nil
	})
}

func severityColor(s insight.Severity) *color.Color {
	switch s {
	case insight.SeverityHigh:
		return stateBad
	case insight.SeverityMedium:
		return stateWaiting
	default:
		return stateGood
	}
}

func displaySummary(out io.Writer, preset reading.Preset, n int, s insight.Summary) {
	fmt.Fprintf(out, "Last %s (%d readings)\n", preset.Name, n)
	fmt.Fprintf(out, "  Average:      %d/%d mmHg\n", s.AverageSystolic, s.AverageDiastolic)
	fmt.Fprintf(out, "  Variability:  %.1f mmHg\n", s.Variability)
	fmt.Fprintf(out, "  Stress score: %d/100\n", s.StressScore)
	fmt.Fprintf(out, "  Risk score:   %d/100\n", s.RiskScore)
	fmt.Fprintln(out)
	for _, in := range s.Insights {
		marker := ""
		if in.ActionNeeded {
			marker = " (action needed)"
		}
		fmt.Fprintf(out, "[%s] %s%s\n", severityColor(in.Severity).Sprint(in.Severity), in.Title, marker)
		fmt.Fprintf(out, "    %s\n", in.Description)
	}
}
