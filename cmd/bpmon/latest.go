package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bpmon/internal/store"
)

// latestCmd represents the latest command
var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent reading",
	Args:  cobra.NoArgs,
	RunE:  runLatest,
}

var latestSeed string

func init() {
	addSeedFlag(latestCmd, &latestSeed)
}

func runLatest(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	return withStore(ctx, cfg, logger, func(s store.Store) error {
		if _, err := seedFrom(ctx, s, latestSeed, store.ModeAppend); err != nil {
			return err
		}
		r, err := s.GetLatest(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %d/%d mmHg\n", formatTimestamp(r.Timestamp), r.Systolic, r.Diastolic)
		return nil
	})
}
