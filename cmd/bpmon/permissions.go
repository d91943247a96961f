package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/bpmon/internal/permission"
)

// permissionsCmd represents the permissions command
var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Check BLE capabilities and adapter power",
	Long: `Evaluates the capabilities bpmon needs (scan, connect, location) and whether
the Bluetooth adapter is powered, and prints what is missing.`,
	Args: cobra.NoArgs,
	RunE: runPermissions,
}

func runPermissions(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	radio := newRadio(cfg, logger)
	if radio.Close != nil {
		defer func() { _ = radio.Close() }()
	}

	gate := permission.NewGate(nil, newCapabilityProbe(), radio.Probe, logger)
	defer gate.Close()

	st := gate.CheckCapabilities(cmd.Context())
	out := cmd.OutOrStdout()
	switch s := st.(type) {
	case permission.AllGranted:
		fmt.Fprintln(out, stateGood.Sprint("Ready: ")+"all capabilities granted, radio on")
	case permission.NeedsPermissions:
		fmt.Fprintln(out, stateBad.Sprint("Missing permissions: ")+capList(s.Missing))
		fmt.Fprintln(out, "Hint: run as root or grant CAP_NET_ADMIN and CAP_NET_RAW to the binary")
	case permission.NeedsRationale:
		fmt.Fprintln(out, stateBad.Sprint("Permissions denied: ")+capList(s.Denied))
		fmt.Fprintln(out, "Hint: the capabilities were refused before; grant them explicitly")
	case permission.NeedsRadioEnable:
		fmt.Fprintln(out, stateWaiting.Sprint("Radio: ")+"adapter is powered off")
		fmt.Fprintln(out, "Hint: power the adapter on, e.g. 'bluetoothctl power on'")
	default:
		panic(fmt.Sprintf("unknown permission state %T", st))
	}
	return nil
}

func capList(caps []permission.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
