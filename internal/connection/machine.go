// Package connection supervises the BLE session with the wearable: discovery,
// connection, notification setup and bounded reconnects.
package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/groutine"
	"github.com/srg/bpmon/internal/ringchan"
)

// ErrClosed is returned by StartSetup after Close.
var ErrClosed = errors.New("connection machine closed")

const jobQueueSize = 64

// Machine is the single owner of the transport and of the published State.
//
// Transport calls run one at a time on an internal worker goroutine; transport
// callbacks only take the state lock briefly and enqueue work, so they never
// block on I/O. Every StartSetup opens a new epoch; timers, callbacks and jobs
// carrying an older epoch are ignored.
type Machine struct {
	transport device.Transport
	radio     device.RadioProbe
	onFrame   device.NotificationHandler
	opts      Options
	logger    *logrus.Logger

	jobs chan func()
	quit chan struct{}
	ctx  context.Context
	stop context.CancelFunc

	mu            sync.Mutex
	state         State
	epoch         uint64
	session       string
	closed        bool
	scanning      bool
	scanTimer     *time.Timer
	retryTimer    *time.Timer
	retryPending  bool
	retries       int
	deviceID      string
	attemptCancel context.CancelFunc

	// owned by the worker goroutine
	scanActive bool
	linkActive bool
	linkSeq    uint64

	subs *ringchan.Broadcaster[State]
}

// New creates a machine. onFrame receives every notification payload and must
// not block. A nil radio probe skips the radio check and lets transport errors
// decide.
func New(transport device.Transport, radio device.RadioProbe, onFrame device.NotificationHandler, opts Options, logger *logrus.Logger) (*Machine, error) {
	if transport == nil {
		return nil, errors.New("connection: transport is required")
	}
	if onFrame == nil {
		return nil, errors.New("connection: frame handler is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("connection: invalid options: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	ctx, stop := context.WithCancel(context.Background())
	m := &Machine{
		transport: transport,
		radio:     radio,
		onFrame:   onFrame,
		opts:      opts,
		logger:    logger,
		jobs:      make(chan func(), jobQueueSize),
		quit:      make(chan struct{}),
		ctx:       ctx,
		stop:      stop,
		state:     Initial{},
		subs:      ringchan.NewBroadcaster[State](),
	}

	groutine.Go(ctx, "bp-link-worker", m.run)
	return m, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the id of the current setup session ("" before StartSetup).
func (m *Machine) Session() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Subscribe streams every subsequent state transition.
func (m *Machine) Subscribe() (<-chan State, func()) {
	return m.subs.Subscribe(64)
}

// StartSetup begins a new session: radio check, scan, connect. It is a no-op
// while scanning. In any other state it supersedes the current session,
// cancelling a pending retry or connection attempt.
func (m *Machine) StartSetup(_ context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.state.(Scanning); ok {
		m.mu.Unlock()
		m.logger.Debug("StartSetup ignored, scan already running")
		return nil
	}

	m.epoch++
	epoch := m.epoch
	m.stopTimersLocked()
	if m.attemptCancel != nil {
		m.attemptCancel()
		m.attemptCancel = nil
	}
	m.retries = 0
	m.deviceID = ""
	m.session = uuid.NewString()
	session := m.session
	m.mu.Unlock()

	m.logger.WithField("session", session).Info("Starting sensor setup")
	m.enqueue(func() { m.runSetup(epoch) })
	return nil
}

// Close stops scanning, disconnects and cancels pending timers. The machine
// cannot be restarted afterwards.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.epoch++
	m.scanning = false
	m.stopTimersLocked()
	if m.attemptCancel != nil {
		m.attemptCancel()
		m.attemptCancel = nil
	}
	m.mu.Unlock()

	var teardownErr error
	done := make(chan struct{})
	m.jobs <- func() {
		defer close(done)
		teardownErr = errors.Join(m.releaseScan(), m.releaseLink())
	}
	<-done

	close(m.quit)
	m.stop()
	m.subs.Close()
	m.logger.Debug("Connection machine closed")
	return teardownErr
}

func (m *Machine) run(_ context.Context) {
	for {
		select {
		case job := <-m.jobs:
			m.runJob(job)
		case <-m.quit:
			return
		}
	}
}

func (m *Machine) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("panic", r).Error("Transport job panicked")
			m.mu.Lock()
			if !m.closed {
				m.setStateLocked(Failed{Reason: fmt.Sprintf("internal error: %v", r)})
			}
			m.mu.Unlock()
		}
	}()
	job()
}

// enqueue hands a job to the worker. It blocks only if the queue is full,
// which bounded event sources (one match per scan, one drop per link, timers)
// never reach in practice.
func (m *Machine) enqueue(job func()) {
	select {
	case m.jobs <- job:
	case <-m.quit:
	}
}

func (m *Machine) stale(epoch uint64) bool {
	return m.closed || epoch != m.epoch
}

func (m *Machine) stopTimersLocked() {
	if m.scanTimer != nil {
		m.scanTimer.Stop()
		m.scanTimer = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.retryPending = false
}

func (m *Machine) setStateLocked(s State) {
	if m.state == s {
		return
	}
	from := m.state
	m.state = s
	m.logger.WithFields(logrus.Fields{
		"from":    from.String(),
		"to":      s.String(),
		"session": m.session,
	}).Info("Connection state changed")
	m.subs.Publish(s)
}

// runSetup runs on the worker.
func (m *Machine) runSetup(epoch uint64) {
	m.mu.Lock()
	if m.stale(epoch) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// leftovers of a superseded session
	if err := errors.Join(m.releaseScan(), m.releaseLink()); err != nil {
		m.logger.WithField("error", err).Warn("Failed to release previous session")
	}

	enabled := true
	if m.radio != nil {
		var err error
		enabled, err = m.radio.RadioEnabled(m.ctx)
		if err != nil {
			m.logger.WithField("error", err).Warn("Radio state unavailable, treating as disabled")
			enabled = false
		}
	}

	m.mu.Lock()
	if m.stale(epoch) {
		m.mu.Unlock()
		return
	}
	if !enabled {
		m.setStateLocked(RadioOff{})
		m.mu.Unlock()
		return
	}
	m.scanning = true
	m.setStateLocked(Scanning{})
	m.scanTimer = time.AfterFunc(m.opts.ScanTimeout, func() {
		m.enqueue(func() { m.onScanTimeout(epoch) })
	})
	m.mu.Unlock()

	err := m.transport.StartScan(func(adv device.Advertisement) {
		m.onAdvertisement(epoch, adv)
	})
	if err != nil {
		m.logger.WithField("error", err).Error("Failed to start scan")
		m.mu.Lock()
		if !m.stale(epoch) && m.scanning {
			m.scanning = false
			m.stopTimersLocked()
			m.setStateLocked(failureState(err, "scan failed"))
		}
		m.mu.Unlock()
		return
	}
	m.scanActive = true
}

// onAdvertisement runs on the transport's goroutine.
func (m *Machine) onAdvertisement(epoch uint64, adv device.Advertisement) {
	if !strings.Contains(adv.LocalName(), m.opts.NamePrefix) {
		return
	}

	m.mu.Lock()
	if m.stale(epoch) || !m.scanning {
		m.mu.Unlock()
		return
	}
	m.scanning = false
	if m.scanTimer != nil {
		m.scanTimer.Stop()
		m.scanTimer = nil
	}
	id := adv.Addr()
	m.deviceID = id
	m.setStateLocked(DeviceFound{DeviceID: id})
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"name":    adv.LocalName(),
		"address": id,
		"rssi":    adv.RSSI(),
	}).Info("Sensor discovered")

	m.enqueue(func() {
		if err := m.releaseScan(); err != nil {
			m.logger.WithField("error", err).Warn("Failed to stop scan")
		}
		m.connect(epoch, id, false)
	})
}

// onScanTimeout runs on the worker.
func (m *Machine) onScanTimeout(epoch uint64) {
	m.mu.Lock()
	if m.stale(epoch) || !m.scanning {
		m.mu.Unlock()
		return
	}
	m.scanning = false
	m.scanTimer = nil
	m.setStateLocked(DeviceNotFound{})
	m.mu.Unlock()

	if err := m.releaseScan(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to stop scan")
	}
}

// connect runs on the worker.
func (m *Machine) connect(epoch uint64, id string, fromRetry bool) {
	m.mu.Lock()
	if m.stale(epoch) {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.ConnectTimeout)
	m.attemptCancel = cancel
	session := m.session
	m.mu.Unlock()
	defer cancel()

	m.linkSeq++
	seq := m.linkSeq
	log := m.logger.WithFields(logrus.Fields{
		"session": session,
		"address": id,
		"retry":   fromRetry,
	})
	log.Debug("Connecting to sensor")

	err := m.transport.Connect(ctx, id, func(reason device.Reason) {
		m.enqueue(func() { m.onDisconnect(epoch, seq, reason) })
	})
	if err == nil {
		m.linkActive = true
		err = m.transport.EnableNotifications(m.opts.ServiceUUID, m.opts.CharacteristicUUID, m.onFrame)
	}

	m.mu.Lock()
	m.attemptCancel = nil
	if m.stale(epoch) {
		m.mu.Unlock()
		if relErr := m.releaseLink(); relErr != nil {
			log.WithField("error", relErr).Debug("Failed to release superseded link")
		}
		return
	}

	if err != nil {
		log.WithField("error", err).Error("Sensor connection failed")
		if fromRetry && !errors.Is(err, device.ErrPermissionDenied) && m.scheduleRetryLocked(epoch) {
			m.mu.Unlock()
			_ = m.releaseLink()
			return
		}
		m.setStateLocked(failureState(err, "connection failed"))
		m.mu.Unlock()
		if relErr := m.releaseLink(); relErr != nil {
			log.WithField("error", relErr).Warn("Failed to release link after connection failure")
		}
		return
	}

	// the budget covers consecutive failures only
	m.retries = 0
	m.setStateLocked(Connected{DeviceID: id})
	m.mu.Unlock()
	log.Info("Sensor connected, streaming samples")
}

// onDisconnect runs on the worker.
func (m *Machine) onDisconnect(epoch, seq uint64, reason device.Reason) {
	if seq != m.linkSeq {
		return
	}
	m.linkActive = false

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale(epoch) {
		return
	}

	log := m.logger.WithFields(logrus.Fields{
		"session": m.session,
		"reason":  reason,
		"retries": m.retries,
	})

	if m.retryPending {
		log.Debug("Disconnect ignored, retry already pending")
		return
	}
	if !m.opts.retryable(reason) {
		log.Warn("Sensor disconnected with non-retryable reason")
		m.setStateLocked(Failed{Reason: fmt.Sprintf("device disconnected (reason: %s)", reason)})
		return
	}
	if !m.scheduleRetryLocked(epoch) {
		log.Warn("Sensor disconnected, retry budget exhausted")
		m.setStateLocked(Failed{Reason: "device disconnected"})
		return
	}
	log.Info("Sensor disconnected, reconnect scheduled")
}

// scheduleRetryLocked arms the backoff timer if budget remains.
func (m *Machine) scheduleRetryLocked(epoch uint64) bool {
	if m.retries >= m.opts.MaxRetries || m.deviceID == "" {
		return false
	}
	m.retries++
	m.retryPending = true
	m.setStateLocked(DeviceFound{DeviceID: m.deviceID})
	m.retryTimer = time.AfterFunc(m.opts.RetryBackoff, func() {
		m.enqueue(func() { m.fireRetry(epoch) })
	})
	return true
}

// fireRetry runs on the worker.
func (m *Machine) fireRetry(epoch uint64) {
	m.mu.Lock()
	if m.stale(epoch) || !m.retryPending {
		m.mu.Unlock()
		return
	}
	m.retryPending = false
	m.retryTimer = nil
	id := m.deviceID
	attempt := m.retries
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"address": id,
		"attempt": attempt,
		"max":     m.opts.MaxRetries,
	}).Info("Reconnecting to sensor")

	if err := m.releaseLink(); err != nil {
		m.logger.WithField("error", err).Debug("Failed to release dropped link")
	}
	m.connect(epoch, id, true)
}

// releaseScan runs on the worker.
func (m *Machine) releaseScan() error {
	if !m.scanActive {
		return nil
	}
	m.scanActive = false
	return m.transport.StopScan()
}

// releaseLink runs on the worker.
func (m *Machine) releaseLink() error {
	if !m.linkActive {
		return nil
	}
	m.linkActive = false
	return m.transport.Disconnect()
}

// failureState maps a transport error to the state it surfaces as.
func failureState(err error, prefix string) State {
	var nf *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrPermissionDenied):
		return Failed{Reason: "permission denied"}
	case errors.Is(err, device.ErrBluetoothOff):
		return RadioOff{}
	case errors.As(err, &nf) && nf.Resource == "service":
		return Failed{Reason: "required service not found"}
	case errors.As(err, &nf):
		return Failed{Reason: "sensor characteristic not found"}
	case errors.Is(err, context.DeadlineExceeded):
		return Failed{Reason: prefix + ": timeout"}
	default:
		return Failed{Reason: fmt.Sprintf("%s: %v", prefix, err)}
	}
}
