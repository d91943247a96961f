package goble

import (
	"context"
	"errors"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/groutine"
)

const scanStopTimeout = 2 * time.Second

// StartScan begins scanning in the background and returns immediately.
func (t *Transport) StartScan(handler device.AdvertisementHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.scanCancel != nil {
		return device.ErrScanInProgress
	}

	dev, err := t.device()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.scanCancel = cancel
	t.scanDone = done

	allowDup := t.opts.AllowDuplicates
	t.logger.WithField("allow_duplicates", allowDup).Debug("Starting BLE scan...")

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		defer close(done)
		// Adapter: convert a handler expecting a device.Advertisement to the one expecting ble.Advertisement
		err := dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
			handler(NewBLEAdvertisement(adv))
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.logger.WithField("error", NormalizeError(err)).Warn("BLE scan ended with error")
		}
	})
	return nil
}

// StopScan stops a running scan. Calling it when no scan runs is a no-op.
func (t *Transport) StopScan() error {
	t.mu.Lock()
	cancel, done := t.scanCancel, t.scanDone
	t.scanCancel, t.scanDone = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-time.After(scanStopTimeout):
		t.logger.WithFields(logrus.Fields{
			"timeout": scanStopTimeout,
		}).Warn("BLE scan did not stop in time")
	}
	t.logger.Debug("BLE scan stopped")
	return nil
}
