package goble

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/groutine"
)

// link is one live GATT client session.
type link struct {
	address    string
	client     ble.Client
	profile    *ble.Profile
	subscribed *ble.Characteristic
	local      bool // Disconnect was requested by us
	cancel     context.CancelFunc
}

// Connect dials the peer, discovers its GATT profile and starts watching for
// link loss. onDisconnect fires once if the peer (or the controller) drops the link.
func (t *Transport) Connect(ctx context.Context, address string, onDisconnect device.DisconnectHandler) error {
	if strings.TrimSpace(address) == "" {
		t.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}

	t.mu.Lock()
	if t.link != nil {
		t.mu.Unlock()
		t.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}
	dev, err := t.device()
	t.mu.Unlock()
	if err != nil {
		return err
	}

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": t.opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	client, err := dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	t.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	l := &link{address: address, client: client, profile: profile, cancel: monitorCancel}

	t.mu.Lock()
	t.link = l
	t.mu.Unlock()

	// Both the darwin and linux clients expose Disconnected(); anything else
	// cannot report link loss and relies on the caller's own supervision.
	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(monitorCtx, "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-watcher.Disconnected():
				t.handleLinkLoss(l, onDisconnect)
			case <-ctx.Done():
			}
		})
	} else {
		t.logger.Debug("Client does not support Disconnected() channel, link loss will not be reported")
	}

	t.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(profile.Services),
	}).Info("BLE device connected successfully")
	return nil
}

func (t *Transport) handleLinkLoss(l *link, onDisconnect device.DisconnectHandler) {
	t.mu.Lock()
	if t.link != l || l.local {
		t.mu.Unlock()
		return
	}
	t.link = nil
	t.mu.Unlock()

	l.cancel()
	// go-ble does not surface the HCI reason code; a drop we did not ask for
	// is reported as a peer-initiated termination.
	reason := device.ReasonRemoteUserTerminated
	t.logger.WithFields(logrus.Fields{
		"address": l.address,
		"reason":  reason,
	}).Warn("BLE link lost")

	if onDisconnect != nil {
		onDisconnect(reason)
	}
}

// EnableNotifications subscribes to notifications of the given characteristic.
func (t *Transport) EnableNotifications(serviceUUID, charUUID string, handler device.NotificationHandler) error {
	t.mu.Lock()
	l := t.link
	t.mu.Unlock()
	if l == nil {
		return device.ErrNotConnected
	}

	char, err := findCharacteristic(l.profile, serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not support notifications", charUUID)
	}

	indicate := char.Property&ble.CharNotify == 0
	err = l.client.Subscribe(char, indicate, func(data []byte) {
		handler(data)
	})
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"service_uuid": serviceUUID,
			"char_uuid":    charUUID,
			"error":        err,
		}).Error("Failed to subscribe to characteristic")
		return fmt.Errorf("failed to enable notifications: %w", NormalizeError(err))
	}

	t.mu.Lock()
	l.subscribed = char
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"service_uuid": serviceUUID,
		"char_uuid":    charUUID,
		"indicate":     indicate,
	}).Debug("Notifications enabled")
	return nil
}

// Disconnect drops the current link, if any.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	l := t.link
	if l == nil {
		t.mu.Unlock()
		t.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	l.local = true
	t.link = nil
	sub := l.subscribed
	t.mu.Unlock()

	t.logger.WithField("address", l.address).Info("Disconnecting BLE device...")
	l.cancel()

	if sub != nil {
		indicate := sub.Property&ble.CharNotify == 0
		if err := l.client.Unsubscribe(sub, indicate); err != nil {
			t.logger.WithField("error", err).Warn("Failed to unsubscribe during disconnect")
		}
	}

	if err := l.client.CancelConnection(); err != nil {
		t.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	t.logger.Info("BLE device disconnected successfully")
	return nil
}

func findCharacteristic(profile *ble.Profile, serviceUUID, charUUID string) (*ble.Characteristic, error) {
	svcID, err := ble.Parse(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}
	charID, err := ble.Parse(charUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", charUUID, err)
	}

	for _, svc := range profile.Services {
		if !svc.UUID.Equal(svcID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(charID) {
				return c, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}
