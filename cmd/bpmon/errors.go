package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/estimator"
	"github.com/srg/bpmon/internal/pipeline"
	"github.com/srg/bpmon/internal/reading"
	"github.com/srg/bpmon/internal/store"
)

// Command-level errors
var (
	// ErrDeviceNotFound means no matching wearable advertised before the scan timed out.
	ErrDeviceNotFound = errors.New("no Group12 wearable found")
	// ErrLinkFailed means the session ended in a terminal failure state.
	ErrLinkFailed = errors.New("link failed")
	ErrRadioOff   = errors.New("bluetooth radio is off")
)

// FormatUserError turns internal errors into a one-line message with a hint.
func FormatUserError(err error) string {
	var blocked *pipeline.BlockedError
	var scriptErr *estimator.ScriptError
	switch {
	case errors.As(err, &blocked):
		return fmt.Sprintf("cannot start monitoring: %s (run 'bpmon permissions' for details)", blocked.State)
	case errors.Is(err, device.ErrBluetoothOff), errors.Is(err, ErrRadioOff):
		return "Bluetooth is turned off; enable the adapter and try again"
	case errors.Is(err, device.ErrPermissionDenied):
		return "permission denied: grant BLE capabilities (e.g. CAP_NET_ADMIN) or run as root"
	case errors.Is(err, device.ErrScanInProgress):
		return "another scan is already running"
	case errors.Is(err, ErrDeviceNotFound):
		return "no Group12 wearable found; make sure it is powered and advertising"
	case errors.Is(err, store.ErrNotFound):
		return "no readings recorded yet"
	case errors.Is(err, reading.ErrInvalidBucket), errors.Is(err, reading.ErrInvalidRange):
		return err.Error()
	case errors.As(err, &scriptErr):
		return scriptErr.Error() + " (check estimator.script in the config)"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	default:
		return err.Error()
	}
}
