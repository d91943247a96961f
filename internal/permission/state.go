package permission

import (
	"fmt"
	"strings"
)

// Capability is an OS-level grant the link needs.
type Capability string

const (
	CapabilityScan     Capability = "scan"
	CapabilityConnect  Capability = "connect"
	CapabilityLocation Capability = "location"
)

// DefaultRequired lists the capabilities needed to discover and stream from the sensor.
var DefaultRequired = []Capability{CapabilityScan, CapabilityConnect, CapabilityLocation}

// State is the gate's published value. The concrete types below are the only
// implementations; consumers switch over them exhaustively.
type State interface {
	isPermissionState()
	String() string
}

// AllGranted means the link may proceed.
type AllGranted struct{}

// NeedsPermissions lists capabilities that have not been granted yet.
type NeedsPermissions struct {
	Missing []Capability
}

// NeedsRationale lists capabilities the user explicitly refused and that are
// still missing; a front end should explain why they are needed before asking again.
type NeedsRationale struct {
	Denied []Capability
}

// NeedsRadioEnable means the adapter is off (or could not be queried).
type NeedsRadioEnable struct{}

func (AllGranted) isPermissionState()       {}
func (NeedsPermissions) isPermissionState() {}
func (NeedsRationale) isPermissionState()   {}
func (NeedsRadioEnable) isPermissionState() {}

func (AllGranted) String() string       { return "all granted" }
func (NeedsRadioEnable) String() string { return "radio disabled" }

func (s NeedsPermissions) String() string {
	return fmt.Sprintf("needs permissions: %s", joinCapabilities(s.Missing))
}

func (s NeedsRationale) String() string {
	return fmt.Sprintf("needs rationale: %s", joinCapabilities(s.Denied))
}

func joinCapabilities(caps []Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
