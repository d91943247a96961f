package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/device"
)

// DefaultConnectTimeout bounds dial plus profile discovery.
const DefaultConnectTimeout = 30 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Options configures a Transport.
type Options struct {
	ConnectTimeout time.Duration
	// AllowDuplicates reports every advertisement instead of the first per peer.
	AllowDuplicates bool
}

// Transport implements device.Transport on top of go-ble.
//
// The underlying ble.Device is created lazily on first use and kept for the
// lifetime of the Transport; a single link and a single scan can be active at
// a time.
type Transport struct {
	logger *logrus.Logger
	opts   Options

	mu  sync.Mutex
	dev ble.Device

	scanCancel context.CancelFunc
	scanDone   chan struct{}

	link *link
}

// NewTransport creates a go-ble backed transport.
func NewTransport(logger *logrus.Logger, opts Options) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	return &Transport{logger: logger, opts: opts}
}

// device returns the lazily created ble.Device. Callers hold t.mu.
func (t *Transport) device() (ble.Device, error) {
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

// RadioEnabled reports whether a BLE device can be opened. A powered-off
// adapter is reported as (false, nil); other failures are returned as errors.
func (t *Transport) RadioEnabled(_ context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.device(); err != nil {
		if errors.Is(err, device.ErrBluetoothOff) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close stops scanning, drops the link and releases the BLE device.
func (t *Transport) Close() error {
	var errs []error
	if err := t.StopScan(); err != nil {
		errs = append(errs, err)
	}
	if err := t.Disconnect(); err != nil {
		errs = append(errs, err)
	}

	t.mu.Lock()
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()

	if dev != nil {
		if err := dev.Stop(); err != nil {
			errs = append(errs, NormalizeError(err))
		}
	}
	return errors.Join(errs...)
}

var _ device.Transport = (*Transport)(nil)
var _ device.RadioProbe = (*Transport)(nil)
