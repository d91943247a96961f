// Package bluez answers adapter questions through the BlueZ D-Bus API.
package bluez

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/device"
)

const (
	bluezBus      = "org.bluez"
	bluezAdapter1 = "org.bluez.Adapter1"

	// DefaultAdapter is the first HCI controller.
	DefaultAdapter = "hci0"
)

// ObjectResolver returns the D-Bus object for a BlueZ path.
type ObjectResolver func(path dbus.ObjectPath) (dbus.BusObject, error)

// SystemBusResolver resolves objects on the shared system bus connection.
func SystemBusResolver(path dbus.ObjectPath) (dbus.BusObject, error) {
	// dbus.SystemBus returns a process-wide cached connection; it is never closed here.
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return conn.Object(bluezBus, path), nil
}

// RadioProbe reads org.bluez.Adapter1.Powered for one adapter.
type RadioProbe struct {
	adapter string
	resolve ObjectResolver
	logger  *logrus.Logger
}

// NewRadioProbe creates a probe for adapter (e.g. "hci0"). A nil resolver uses the system bus.
func NewRadioProbe(adapter string, resolve ObjectResolver, logger *logrus.Logger) *RadioProbe {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	if resolve == nil {
		resolve = SystemBusResolver
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RadioProbe{adapter: adapter, resolve: resolve, logger: logger}
}

// RadioEnabled reports the adapter's Powered property.
func (p *RadioProbe) RadioEnabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path := dbus.ObjectPath("/org/bluez/" + p.adapter)
	obj, err := p.resolve(path)
	if err != nil {
		return false, err
	}

	powered, err := getProperty[bool](obj, bluezAdapter1, "Powered")
	if err != nil {
		if strings.Contains(err.Error(), "org.freedesktop.DBus.Error.AccessDenied") {
			return false, fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
		}
		return false, fmt.Errorf("failed to read %s powered state: %w", p.adapter, err)
	}

	p.logger.WithFields(logrus.Fields{
		"adapter": p.adapter,
		"powered": powered,
	}).Debug("Adapter power state")
	return powered, nil
}

func getProperty[T any](obj dbus.BusObject, iface, property string) (T, error) {
	var zero T
	variant, err := obj.GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}

	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}

var _ device.RadioProbe = (*RadioProbe)(nil)
