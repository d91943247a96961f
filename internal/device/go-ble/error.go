package goble

import (
	"fmt"
	"strings"

	"github.com/srg/bpmon/internal/device"
)

// NormalizeError maps known go-ble error strings to the device sentinels.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.HasPrefix(msg, "central manager has invalid state: have=3"):
		// CBManagerStateUnauthorized
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	case containsIgnoreCase(msg, "can't init hci"):
		if containsIgnoreCase(msg, "not permitted") {
			return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	default:
		return device.NormalizeError(err)
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
