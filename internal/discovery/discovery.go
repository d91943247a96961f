// Package discovery lists nearby peripherals without connecting to them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/ringchan"
)

// EventType marks if the peer was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

type Event struct {
	Type EventType
	Peer Peer
}

// Peer is what was learned about one advertiser during a scan.
type Peer struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Services    []string  `json:"services,omitempty"`
	Seen        int       `json:"seen"`
	Matches     bool      `json:"matches"`
	LastSeen    time.Time `json:"lastSeen"`
}

type Options struct {
	Duration time.Duration
	// NamePrefix marks peers whose advertised name contains it as matches.
	NamePrefix string
	// OnlyMatching drops non-matching peers from the result.
	OnlyMatching bool
}

func DefaultOptions() Options {
	return Options{
		Duration:   10 * time.Second,
		NamePrefix: device.DefaultNamePrefix,
	}
}

type entry struct {
	mu   sync.Mutex
	peer Peer
}

// Scanner handles peer discovery over a Transport.
type Scanner struct {
	transport device.Transport
	logger    *logrus.Logger
	events    *ringchan.RingChannel[Event]
	scanning  atomic.Bool
	now       func() time.Time
}

func NewScanner(transport device.Transport, logger *logrus.Logger) (*Scanner, error) {
	if transport == nil {
		return nil, errors.New("discovery: transport is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		transport: transport,
		logger:    logger,
		events:    ringchan.New[Event](100),
		now:       time.Now,
	}, nil
}

// Events streams discoveries and updates as they happen.
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}

// Scan listens for opts.Duration (or until ctx ends) and returns the peers
// seen, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, opts Options) ([]Peer, error) {
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("discovery: scan duration must be positive, got %s", opts.Duration)
	}
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, device.ErrScanInProgress
	}
	defer s.scanning.Store(false)

	peers := hashmap.New[string, *entry]()
	handler := func(adv device.Advertisement) {
		s.handleAdvertisement(peers, adv, opts)
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	if err := s.transport.StartScan(handler); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	timer := time.NewTimer(opts.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := s.transport.StopScan(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop scan")
	}

	out := make([]Peer, 0, peers.Len())
	peers.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		p := e.peer
		e.mu.Unlock()
		if !opts.OnlyMatching || p.Matches {
			out = append(out, p)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})

	s.logger.WithField("device_count", len(out)).Info("BLE scan completed")
	return out, nil
}

// handleAdvertisement updates existing or adds a new peer
func (s *Scanner) handleAdvertisement(peers *hashmap.Map[string, *entry], adv device.Advertisement, opts Options) {
	addr := adv.Addr()
	e, existing := peers.GetOrInsert(addr, &entry{})

	e.mu.Lock()
	p := &e.peer
	p.Address = addr
	if name := adv.LocalName(); name != "" {
		p.Name = name
	}
	p.RSSI = adv.RSSI()
	p.Connectable = adv.Connectable()
	if svcs := adv.Services(); len(svcs) > 0 {
		p.Services = append([]string(nil), svcs...)
	}
	p.Seen++
	p.LastSeen = s.now()
	p.Matches = opts.NamePrefix != "" && strings.Contains(p.Name, opts.NamePrefix)
	snapshot := *p
	e.mu.Unlock()

	event := Event{Type: EventUpdated, Peer: snapshot}
	if !existing {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  snapshot.Name,
			"address": snapshot.Address,
			"rssi":    snapshot.RSSI,
			"matches": snapshot.Matches,
		}).Info("Discovered new device")
	}
	s.events.ForceSend(event)
}
