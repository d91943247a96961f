package connection

import "fmt"

// State is the machine's published value. The concrete types below are the
// only implementations; consumers switch over them exhaustively.
type State interface {
	isConnectionState()
	String() string
}

// Initial is the state before the first StartSetup.
type Initial struct{}

// RadioOff means StartSetup found the adapter disabled.
type RadioOff struct{}

// DeviceNotFound means the scan timed out without a matching advertisement.
type DeviceNotFound struct{}

// Scanning means discovery is running.
type Scanning struct{}

// DeviceFound means a matching peer was selected and a connection attempt
// (first or retry) is in progress.
type DeviceFound struct {
	DeviceID string
}

// Connected means the link is up, the sensor characteristic was found and
// notifications are flowing.
type Connected struct {
	DeviceID string
}

// Failed is terminal until the next StartSetup.
type Failed struct {
	Reason string
}

func (Initial) isConnectionState()        {}
func (RadioOff) isConnectionState()       {}
func (DeviceNotFound) isConnectionState() {}
func (Scanning) isConnectionState()       {}
func (DeviceFound) isConnectionState()    {}
func (Connected) isConnectionState()      {}
func (Failed) isConnectionState()         {}

func (Initial) String() string        { return "initial" }
func (RadioOff) String() string       { return "radio off" }
func (DeviceNotFound) String() string { return "device not found" }
func (Scanning) String() string       { return "scanning" }

func (s DeviceFound) String() string { return fmt.Sprintf("device found (%s)", s.DeviceID) }
func (s Connected) String() string   { return fmt.Sprintf("connected (%s)", s.DeviceID) }
func (s Failed) String() string      { return fmt.Sprintf("failed: %s", s.Reason) }

// IsTerminal reports whether s waits for a new StartSetup.
func IsTerminal(s State) bool {
	switch s.(type) {
	case Initial, RadioOff, DeviceNotFound, Failed:
		return true
	case Scanning, DeviceFound, Connected:
		return false
	default:
		panic(fmt.Sprintf("connection: unknown state %T", s))
	}
}
