// Package pipeline owns one monitoring run: it wires the connection machine to
// decoding, windowing, estimation and recording, and tears it all down.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/capture"
	"github.com/srg/bpmon/internal/connection"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/estimator"
	"github.com/srg/bpmon/internal/frame"
	"github.com/srg/bpmon/internal/groutine"
	"github.com/srg/bpmon/internal/permission"
	"github.com/srg/bpmon/internal/reading"
	"github.com/srg/bpmon/internal/ringchan"
	"github.com/srg/bpmon/internal/store"
	"github.com/srg/bpmon/internal/window"
)

// BlockedError is returned by Start when the permission gate is not open.
type BlockedError struct {
	State permission.State
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("cannot start monitoring: %s", e.State)
}

type Options struct {
	Connection connection.Options
	Window     window.Options
	// FrameQueue bounds the frames waiting for the processor; the oldest are
	// dropped when it is full.
	FrameQueue int
	// DrainTimeout bounds how long Close waits for in-flight estimations.
	DrainTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Connection:   connection.DefaultOptions(),
		Window:       window.DefaultOptions(),
		FrameQueue:   256,
		DrainTimeout: 5 * time.Second,
	}
}

// Deps are the collaborators of a pipeline. Transport, Estimator and Store are
// required; the pipeline takes ownership of Store and of every Sink that
// implements io.Closer.
type Deps struct {
	Transport device.Transport
	Radio     device.RadioProbe
	Gate      *permission.Gate
	Estimator estimator.Estimator
	Store     store.Store
	Sinks     []reading.Sink
	Capture   *capture.Recorder
	Logger    *logrus.Logger
}

// Metrics is a point-in-time view of the data path counters.
type Metrics struct {
	FramesQueued   int64
	FramesDropped  int64
	Decoder        frame.Metrics
	Window         window.Metrics
	Estimations    uint64
	EmptyEstimates uint64
	Recorded       uint64
	RecordFailures uint64
}

type Pipeline struct {
	runID     string
	opts      Options
	logger    *logrus.Logger
	gate      *permission.Gate
	estimator estimator.Estimator
	store     store.Store
	sinks     []reading.Sink
	capture   *capture.Recorder

	machine *connection.Machine
	frames  *ringchan.RingChannel[[]byte]
	decoder *frame.Decoder
	window  *window.Aggregator
	writer  *reading.Writer

	ctx       context.Context
	cancel    context.CancelFunc
	workers   sync.WaitGroup
	inflight  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	estimations    atomic.Uint64
	emptyEstimates atomic.Uint64
	recorded       atomic.Uint64
	recordFailures atomic.Uint64
}

// New builds a pipeline and starts its processing goroutines. Monitoring
// begins with Start.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Transport == nil {
		return nil, errors.New("pipeline: transport is required")
	}
	if deps.Estimator == nil {
		return nil, errors.New("pipeline: estimator is required")
	}
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.FrameQueue <= 0 {
		return nil, fmt.Errorf("pipeline: frame queue must be positive, got %d", opts.FrameQueue)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	p := &Pipeline{
		runID:     uuid.NewString(),
		opts:      opts,
		logger:    logger,
		gate:      deps.Gate,
		estimator: deps.Estimator,
		store:     deps.Store,
		sinks:     deps.Sinks,
		capture:   deps.Capture,
		frames:    ringchan.New[[]byte](opts.FrameQueue),
		decoder:   frame.NewDecoder(logger),
	}

	var err error
	if p.window, err = window.New(opts.Window, p.submit, logger); err != nil {
		return nil, err
	}
	if p.writer, err = reading.NewWriter(deps.Store, logger, reading.WithSinks(deps.Sinks...)); err != nil {
		return nil, err
	}
	if p.machine, err = connection.New(deps.Transport, deps.Radio, p.onFrame, opts.Connection, logger); err != nil {
		return nil, err
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	states, cancelStates := p.machine.Subscribe()
	groutine.GoTracked(p.ctx, &p.workers, "bp-frame-processor", p.process)
	groutine.GoTracked(p.ctx, &p.workers, "bp-state-logger", func(ctx context.Context) {
		defer cancelStates()
		p.logStates(ctx, states)
	})

	p.log().Debug("Pipeline created")
	return p, nil
}

func (p *Pipeline) RunID() string { return p.runID }

// Start checks the permission gate, when present, and begins a connection session.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.gate != nil {
		st := p.gate.CheckCapabilities(ctx)
		if _, ok := st.(permission.AllGranted); !ok {
			return &BlockedError{State: st}
		}
	}
	return p.machine.StartSetup(ctx)
}

// State returns the connection state.
func (p *Pipeline) State() connection.State { return p.machine.State() }

// States streams connection state transitions.
func (p *Pipeline) States() (<-chan connection.State, func()) { return p.machine.Subscribe() }

// Latest returns the most recent reading recorded by this run.
func (p *Pipeline) Latest() (store.Reading, bool) { return p.writer.Latest() }

// Readings streams readings as they are recorded.
func (p *Pipeline) Readings() (<-chan store.Reading, func()) { return p.writer.Subscribe() }

func (p *Pipeline) Capture() *capture.Recorder { return p.capture }

func (p *Pipeline) Metrics() Metrics {
	fm := p.frames.GetMetrics()
	return Metrics{
		FramesQueued:   fm.Written,
		FramesDropped:  fm.Overwritten,
		Decoder:        p.decoder.Metrics(),
		Window:         p.window.Metrics(),
		Estimations:    p.estimations.Load(),
		EmptyEstimates: p.emptyEstimates.Load(),
		Recorded:       p.recorded.Load(),
		RecordFailures: p.recordFailures.Load(),
	}
}

// Close stops the connection machine and the processor, waits up to
// DrainTimeout for submitted estimations, then closes the store and sinks.
// It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.machine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection: %w", err))
		}

		p.cancel()
		p.frames.Close()
		p.workers.Wait()

		if !p.waitInflight(p.opts.DrainTimeout) {
			p.log().WithField("timeout", p.opts.DrainTimeout).Warn("Estimations still running at shutdown")
		}

		p.writer.Close()
		for _, sink := range p.sinks {
			if c, ok := sink.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
				}
			}
		}
		if err := p.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}

		p.closeErr = errors.Join(errs...)
		m := p.Metrics()
		p.log().WithFields(logrus.Fields{
			"frames":         m.FramesQueued,
			"frames_dropped": m.FramesDropped,
			"windows":        m.Window.Submitted,
			"recorded":       m.Recorded,
		}).Info("Pipeline closed")
	})
	return p.closeErr
}

// onFrame runs on the transport callback path and must not block.
func (p *Pipeline) onFrame(raw []byte) {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	if p.frames.ForceSend(buf) {
		p.log().Debug("Frame queue full, oldest frame dropped")
	}
}

func (p *Pipeline) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-p.frames.C():
			if !ok {
				return
			}
			samples := p.decoder.Decode(raw)
			if samples == nil {
				continue
			}
			if p.capture != nil {
				p.capture.Record(raw)
			}
			p.window.IngestBatch(samples)
		}
	}
}

// submit hands a window to the estimator on its own goroutine. The estimation
// outlives pipeline cancellation.
func (p *Pipeline) submit(samples []float64) {
	groutine.GoTracked(context.WithoutCancel(p.ctx), &p.inflight, "bp-estimate", func(ctx context.Context) {
		p.estimate(ctx, samples)
	})
}

func (p *Pipeline) estimate(ctx context.Context, samples []float64) {
	p.estimations.Add(1)

	est, err := p.estimator.PredictBloodPressure(ctx, samples)
	if err != nil {
		p.log().WithError(err).Warn("Estimation failed, window dropped")
		return
	}
	if est.IsZero() {
		p.emptyEstimates.Add(1)
		p.log().WithField("samples", len(samples)).Debug("No reading produced for window")
		return
	}

	if _, err := p.writer.Record(ctx, est); err != nil {
		p.recordFailures.Add(1)
		return
	}
	p.recorded.Add(1)
}

func (p *Pipeline) waitInflight(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *Pipeline) logStates(ctx context.Context, states <-chan connection.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			p.logState(st)
		}
	}
}

func (p *Pipeline) logState(st connection.State) {
	entry := p.log().WithField("state", st.String())
	switch s := st.(type) {
	case connection.Initial, connection.Scanning:
		entry.Debug("Connection state changed")
	case connection.DeviceFound:
		entry.WithField("device", s.DeviceID).Info("Sensor found")
	case connection.Connected:
		entry.WithField("device", s.DeviceID).Info("Sensor connected, streaming")
	case connection.RadioOff:
		entry.Warn("Bluetooth radio is off")
	case connection.DeviceNotFound:
		entry.Warn("Sensor not found")
	case connection.Failed:
		entry.WithField("reason", s.Reason).Error("Connection failed")
	default:
		panic(fmt.Sprintf("unhandled connection state %T", st))
	}
}

func (p *Pipeline) log() *logrus.Entry {
	return p.logger.WithField("run", p.runID)
}
