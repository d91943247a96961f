//go:build !linux

package permission

// DefaultProbe returns the platform capability probe. Outside Linux the OS
// mediates BLE access itself, so every capability is reported as granted and
// a refusal surfaces later as a permission-denied transport error.
func DefaultProbe() CapabilityProbe {
	return GrantAll(DefaultRequired...)
}
