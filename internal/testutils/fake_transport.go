package testutils

import (
	"context"
	"sync"

	"github.com/srg/bpmon/internal/device"
)

// FakeTransport is an in-memory device.Transport. Tests drive it from the
// outside: Advertise feeds the running scan, Notify pushes a frame, DropLink
// simulates a peer disconnect.
type FakeTransport struct {
	mu sync.Mutex

	// StartScanErr, when set, is returned by StartScan.
	StartScanErr error
	// ConnectErrs are returned by successive Connect calls; nil entries succeed.
	ConnectErrs []error
	// EnableErr, when set, is returned by EnableNotifications.
	EnableErr error
	// ConnectHook, when set, runs inside Connect before it returns.
	ConnectHook func(ctx context.Context, deviceID string) error

	scanHandler  device.AdvertisementHandler
	lastHandler  device.AdvertisementHandler
	onDisconnect device.DisconnectHandler
	notify       device.NotificationHandler
	linked       bool
	connectedTo  string

	starts, stops, connects, disconnects int
	enabledService, enabledChar          string
}

// NewFakeTransport creates an idle fake transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (f *FakeTransport) StartScan(handler device.AdvertisementHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartScanErr != nil {
		return f.StartScanErr
	}
	if f.scanHandler != nil {
		return device.ErrScanInProgress
	}
	f.starts++
	f.scanHandler = handler
	f.lastHandler = handler
	return nil
}

func (f *FakeTransport) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanHandler == nil {
		return nil
	}
	f.stops++
	f.scanHandler = nil
	return nil
}

func (f *FakeTransport) Connect(ctx context.Context, deviceID string, onDisconnect device.DisconnectHandler) error {
	f.mu.Lock()
	f.connects++
	var err error
	if len(f.ConnectErrs) > 0 {
		err = f.ConnectErrs[0]
		f.ConnectErrs = f.ConnectErrs[1:]
	}
	hook := f.ConnectHook
	f.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx, deviceID); hookErr != nil {
			return hookErr
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linked {
		return device.ErrAlreadyConnected
	}
	f.linked = true
	f.connectedTo = deviceID
	f.onDisconnect = onDisconnect
	return nil
}

func (f *FakeTransport) EnableNotifications(serviceUUID, charUUID string, handler device.NotificationHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.linked {
		return device.ErrNotConnected
	}
	if f.EnableErr != nil {
		return f.EnableErr
	}
	f.enabledService, f.enabledChar = serviceUUID, charUUID
	f.notify = handler
	return nil
}

func (f *FakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.linked {
		return nil
	}
	f.disconnects++
	f.linked = false
	f.notify = nil
	f.onDisconnect = nil
	return nil
}

// Advertise delivers adv to the running scan. Returns false when no scan runs.
func (f *FakeTransport) Advertise(adv device.Advertisement) bool {
	f.mu.Lock()
	h := f.scanHandler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(adv)
	return true
}

// AdvertiseLate delivers adv to the most recent scan handler even after the
// scan was stopped, like a callback already in flight when StopScan ran.
func (f *FakeTransport) AdvertiseLate(adv device.Advertisement) bool {
	f.mu.Lock()
	h := f.lastHandler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(adv)
	return true
}

// Notify delivers a notification payload. Returns false when notifications are off.
func (f *FakeTransport) Notify(data []byte) bool {
	f.mu.Lock()
	h := f.notify
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// DropLink simulates the peer closing the link with reason.
func (f *FakeTransport) DropLink(reason device.Reason) bool {
	f.mu.Lock()
	if !f.linked {
		f.mu.Unlock()
		return false
	}
	cb := f.onDisconnect
	f.linked = false
	f.notify = nil
	f.onDisconnect = nil
	f.mu.Unlock()

	if cb != nil {
		cb(reason)
	}
	return true
}

// Scanning reports whether a scan is active.
func (f *FakeTransport) Scanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanHandler != nil
}

// Linked reports whether a link is up and the address it points to.
func (f *FakeTransport) Linked() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linked, f.connectedTo
}

// Counters returns how many scans were started and stopped and how many
// connects and local disconnects happened.
func (f *FakeTransport) Counters() (starts, stops, connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.connects, f.disconnects
}

// Enabled returns the service and characteristic notifications were enabled on.
func (f *FakeTransport) Enabled() (service, char string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabledService, f.enabledChar
}

var _ device.Transport = (*FakeTransport)(nil)
