package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bpmon/internal/store"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed <file.csv>",
	Short: "Import readings from a CSV file",
	Long: `Imports "timestamp,systolic,diastolic" rows (header required, timestamps in
epoch milliseconds) into the configured store. Existing readings with the same
timestamp are overwritten; --replace clears the history first.

Nothing is imported when any row is malformed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

var seedReplace bool

func init() {
	seedCmd.Flags().BoolVar(&seedReplace, "replace", false, "Replace the whole history instead of merging")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	mode := store.ModeAppend
	if seedReplace {
		mode = store.ModeReplace
	}

	ctx := cmd.Context()
	return withStore(ctx, cfg, logger, func(s store.Store) error {
		n, err := seedFrom(ctx, s, args[0], mode)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d reading(s) into %s store\n", n, cfg.Store.Driver)
		return nil
	})
}
