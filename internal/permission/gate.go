// Package permission tracks whether the process may use the BLE radio.
package permission

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/ringchan"
)

// Gate evaluates capability grants and adapter power, and publishes the result.
// It has no side effects beyond publication.
type Gate struct {
	required []Capability
	caps     CapabilityProbe
	radio    device.RadioProbe
	logger   *logrus.Logger

	mu     sync.Mutex
	state  State
	denied map[Capability]bool
	subs   *ringchan.Broadcaster[State]
}

// NewGate creates a gate. A nil required list means DefaultRequired. Nil probes
// are allowed and make the gate fail closed.
func NewGate(required []Capability, caps CapabilityProbe, radio device.RadioProbe, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	if required == nil {
		required = DefaultRequired
	}
	return &Gate{
		required: append([]Capability(nil), required...),
		caps:     caps,
		radio:    radio,
		logger:   logger,
		state:    NeedsPermissions{Missing: append([]Capability(nil), required...)},
		denied:   make(map[Capability]bool),
		subs:     ringchan.NewBroadcaster[State](),
	}
}

// CheckCapabilities re-evaluates grants and radio power and publishes the result.
func (g *Gate) CheckCapabilities(ctx context.Context) State {
	st := g.evaluate(ctx)

	g.mu.Lock()
	g.state = st
	g.mu.Unlock()

	g.logger.WithField("state", st.String()).Debug("Permission state evaluated")
	g.subs.Publish(st)
	return st
}

// ApplyGrantResult records the outcome of a permission prompt and re-checks.
// The grants map only informs which refusals deserve a rationale; the
// published state always comes from a fresh evaluation.
func (g *Gate) ApplyGrantResult(ctx context.Context, grants map[Capability]bool) State {
	g.mu.Lock()
	for c, ok := range grants {
		if ok {
			delete(g.denied, c)
		} else {
			g.denied[c] = true
		}
	}
	g.mu.Unlock()

	g.logger.WithField("grants", grants).Info("Applying permission prompt result")
	return g.CheckCapabilities(ctx)
}

// State returns the last published state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Subscribe streams future states.
func (g *Gate) Subscribe() (<-chan State, func()) {
	return g.subs.Subscribe(16)
}

// Close closes all subscriptions.
func (g *Gate) Close() {
	g.subs.Close()
}

func (g *Gate) evaluate(ctx context.Context) State {
	if g.radio == nil {
		g.logger.Warn("No radio probe configured, assuming radio is unavailable")
		return NeedsRadioEnable{}
	}
	enabled, err := g.radio.RadioEnabled(ctx)
	if err != nil {
		g.logger.WithField("error", err).Warn("Radio state unavailable")
		return NeedsRadioEnable{}
	}
	if !enabled {
		return NeedsRadioEnable{}
	}

	var granted map[Capability]bool
	if g.caps != nil {
		granted, err = g.caps.Granted(ctx)
		if err != nil {
			g.logger.WithField("error", err).Warn("Capability probe failed")
			granted = nil
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var missing, denied []Capability
	for _, c := range g.required {
		if granted[c] {
			delete(g.denied, c)
			continue
		}
		if g.denied[c] {
			denied = append(denied, c)
		} else {
			missing = append(missing, c)
		}
	}

	switch {
	case len(denied) > 0:
		return NeedsRationale{Denied: denied}
	case len(missing) > 0:
		return NeedsPermissions{Missing: missing}
	default:
		return AllGranted{}
	}
}
