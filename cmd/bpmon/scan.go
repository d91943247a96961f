package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bpmon/internal/discovery"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby BLE advertisers",
	Long: `Scans for BLE advertisers and marks the ones whose name contains the
configured prefix (Group12 by default, or --prefix). Only matching peers are shown unless
--all is given.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
	scanPrefix   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (defaults to device.scan_timeout)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "Show non-matching advertisers too")
	scanCmd.Flags().StringVar(&scanPrefix, "prefix", "", "Name prefix to match (defaults to device.name_prefix)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	radio := newRadio(cfg, logger)
	if radio.Close != nil {
		defer func() { _ = radio.Close() }()
	}

	s, err := discovery.NewScanner(radio.Transport, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	opts := discovery.DefaultOptions()
	opts.NamePrefix = cfg.Device.NamePrefix
	if scanPrefix != "" {
		opts.NamePrefix = scanPrefix
	}
	opts.OnlyMatching = !scanAll
	opts.Duration = cfg.Device.ScanTimeout
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Listen for Ctrl+C to cancel; the peers seen so far are still printed
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling scan...")
			cancel()
		case <-ctx.Done():
		}
	}()

	peers, err := s.Scan(ctx, opts)
	if err != nil {
		logger.WithError(err).Error("scan failed")
		return err
	}

	if scanFormat == "json" {
		return displayPeersJSON(cmd.OutOrStdout(), peers)
	}
	return displayPeersTable(cmd.OutOrStdout(), peers)
}

func displayPeersTable(out io.Writer, peers []discovery.Peer) error {
	if len(peers) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tMATCH\tSEEN")
	fmt.Fprintln(w, strings.Repeat("-", 64))
	for _, p := range peers {
		name := p.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		match := ""
		if p.Matches {
			match = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%d\n", name, p.Address, p.RSSI, match, p.Seen)
	}
	return w.Flush()
}

func displayPeersJSON(out io.Writer, peers []discovery.Peer) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(peers)
}
