package bluez

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/srg/bpmon/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	dbus.BusObject
	props map[string]interface{}
	err   error
	asked []string
}

func (o *fakeObject) GetProperty(p string) (dbus.Variant, error) {
	o.asked = append(o.asked, p)
	if o.err != nil {
		return dbus.Variant{}, o.err
	}
	return dbus.MakeVariant(o.props[p]), nil
}

func resolverFor(obj *fakeObject, seen *dbus.ObjectPath) ObjectResolver {
	return func(path dbus.ObjectPath) (dbus.BusObject, error) {
		*seen = path
		return obj, nil
	}
}

func TestRadioProbe_Powered(t *testing.T) {
	for _, powered := range []bool{true, false} {
		obj := &fakeObject{props: map[string]interface{}{"org.bluez.Adapter1.Powered": powered}}
		var path dbus.ObjectPath

		probe := NewRadioProbe("", resolverFor(obj, &path), nil)
		got, err := probe.RadioEnabled(context.Background())

		require.NoError(t, err)
		assert.Equal(t, powered, got)
		assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), path)
		assert.Equal(t, []string{"org.bluez.Adapter1.Powered"}, obj.asked)
	}
}

func TestRadioProbe_Errors(t *testing.T) {
	t.Run("bus unavailable", func(t *testing.T) {
		probe := NewRadioProbe("hci1", func(dbus.ObjectPath) (dbus.BusObject, error) {
			return nil, errors.New("no system bus")
		}, nil)
		_, err := probe.RadioEnabled(context.Background())
		assert.Error(t, err)
	})

	t.Run("access denied maps to permission error", func(t *testing.T) {
		var path dbus.ObjectPath
		obj := &fakeObject{err: errors.New("org.freedesktop.DBus.Error.AccessDenied: rejected")}
		_, err := NewRadioProbe("hci1", resolverFor(obj, &path), nil).RadioEnabled(context.Background())
		assert.ErrorIs(t, err, device.ErrPermissionDenied)
		assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1"), path)
	})

	t.Run("unexpected type", func(t *testing.T) {
		var path dbus.ObjectPath
		obj := &fakeObject{props: map[string]interface{}{"org.bluez.Adapter1.Powered": "yes"}}
		_, err := NewRadioProbe("", resolverFor(obj, &path), nil).RadioEnabled(context.Background())
		assert.ErrorContains(t, err, "unexpected type")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewRadioProbe("", nil, nil).RadioEnabled(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
