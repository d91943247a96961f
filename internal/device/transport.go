package device

import (
	"context"
	"fmt"
)

// Default GATT identifiers and advertised name prefix of the Group12 wearable.
const (
	DefaultServiceUUID        = "a5c298c0-a235-4a32-a4e9-5b42f6bd50e5"
	DefaultCharacteristicUUID = "a5c298c1-a235-4a32-a4e9-5b42f6bd50e5"
	DefaultNamePrefix         = "Group12"
)

// Reason is an HCI disconnect reason code as reported by the controller.
type Reason uint8

// Disconnect reasons the link cares about. Adapters that cannot observe the
// real code report ReasonRemoteUserTerminated for peer-initiated drops.
const (
	ReasonConnectionTimeout           Reason = 0x08
	ReasonRemoteUserTerminated        Reason = 0x13
	ReasonRemoteLowResources          Reason = 0x14
	ReasonRemotePowerOff              Reason = 0x15
	ReasonLocalHostTerminated         Reason = 0x16
	ReasonConnectionFailedToEstablish Reason = 0x3e
)

func (r Reason) String() string {
	return fmt.Sprintf("0x%02x", uint8(r))
}

// AdvertisementHandler receives advertisements while a scan is running.
type AdvertisementHandler func(Advertisement)

// NotificationHandler receives raw notification payloads.
// The slice is only valid for the duration of the call.
type NotificationHandler func(data []byte)

// DisconnectHandler is invoked at most once per successful Connect when the
// link drops for any reason other than a local Disconnect call.
type DisconnectHandler func(reason Reason)

// Transport is the BLE central the connection state machine drives.
//
// Implementations may invoke handlers from their own goroutines; handlers must
// not block. StartScan returns as soon as scanning has begun. Connect blocks
// until the link is up and the GATT profile has been discovered. StopScan and
// Disconnect are idempotent.
type Transport interface {
	StartScan(handler AdvertisementHandler) error
	StopScan() error
	Connect(ctx context.Context, deviceID string, onDisconnect DisconnectHandler) error
	EnableNotifications(serviceUUID, charUUID string, handler NotificationHandler) error
	Disconnect() error
}

// RadioProbe reports whether the local BLE adapter is powered.
type RadioProbe interface {
	RadioEnabled(ctx context.Context) (bool, error)
}

// RadioProbeFunc adapts a function to RadioProbe.
type RadioProbeFunc func(ctx context.Context) (bool, error)

func (f RadioProbeFunc) RadioEnabled(ctx context.Context) (bool, error) { return f(ctx) }
