// Package window batches decoded samples into analysis windows.
package window

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCapacity  = 1000
	DefaultThreshold = 10000
)

// SubmitFunc receives a drained window. The slice is owned by the callee.
// It is called on the ingesting goroutine and must hand long work off.
type SubmitFunc func(samples []float64)

type Options struct {
	// Capacity is the number of most recent samples kept (N).
	Capacity int
	// Threshold is the number of samples seen between two submissions (M).
	Threshold int
}

func DefaultOptions() Options {
	return Options{Capacity: DefaultCapacity, Threshold: DefaultThreshold}
}

func (o Options) Validate() error {
	if o.Capacity <= 0 {
		return errors.New("capacity must be positive")
	}
	if o.Threshold <= 0 {
		return errors.New("threshold must be positive")
	}
	return nil
}

// Metrics is a point-in-time copy of aggregator counters.
type Metrics struct {
	Ingested  uint64
	Evicted   uint64
	Submitted uint64
}

// Aggregator keeps the last Capacity samples and, every Threshold samples,
// drains the window into a SubmitFunc and starts over.
//
// Each sample is counted individually, so IngestBatch triggers at exactly the
// same sample as the equivalent sequence of Ingest calls.
type Aggregator struct {
	opts   Options
	submit SubmitFunc
	logger *logrus.Logger

	mu     sync.Mutex
	buffer mpmc.RichOverlappedRingBuffer[float64]
	length int
	seen   int

	ingested  atomic.Uint64
	evicted   atomic.Uint64
	submitted atomic.Uint64
}

func New(opts Options, submit SubmitFunc, logger *logrus.Logger) (*Aggregator, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}
	if submit == nil {
		return nil, errors.New("window: submit function is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Aggregator{
		opts:   opts,
		submit: submit,
		logger: logger,
		// one spare slot: the ring never has to overwrite, eviction is explicit
		buffer: mpmc.NewOverlappedRingBuffer[float64](uint32(opts.Capacity + 1)),
	}, nil
}

// Ingest appends one sample.
func (a *Aggregator) Ingest(sample float64) {
	if w := a.add(sample); w != nil {
		a.emit(w)
	}
}

// IngestBatch appends samples in order and checks the trigger once, after the
// whole batch. A batch that crosses the threshold submits the N most recent
// samples a single time.
func (a *Aggregator) IngestBatch(samples []float64) {
	if len(samples) == 0 {
		return
	}
	if w := a.add(samples...); w != nil {
		a.emit(w)
	}
}

// Len returns the number of samples currently held.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.length
}

// Pending returns the number of samples seen since the last trigger.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seen
}

func (a *Aggregator) Metrics() Metrics {
	return Metrics{
		Ingested:  a.ingested.Load(),
		Evicted:   a.evicted.Load(),
		Submitted: a.submitted.Load(),
	}
}

// add returns a drained window when the threshold is reached.
func (a *Aggregator) add(samples ...float64) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range samples {
		a.appendLocked(s)
	}

	if a.seen < a.opts.Threshold {
		return nil
	}

	a.seen = 0
	return a.drainLocked()
}

func (a *Aggregator) appendLocked(sample float64) {
	if a.length == a.opts.Capacity {
		if _, err := a.buffer.Dequeue(); err != nil {
			a.logger.WithError(err).Error("Window eviction failed, resetting window")
			a.resetLocked()
		} else {
			a.length--
			a.evicted.Add(1)
		}
	}

	if _, err := a.buffer.EnqueueM(sample); err != nil {
		a.logger.WithError(err).Error("Window append failed, sample dropped")
		return
	}
	a.length++
	a.seen++
	a.ingested.Add(1)
}

func (a *Aggregator) drainLocked() []float64 {
	if a.length == 0 {
		return nil
	}

	out := make([]float64, 0, a.length)
	for !a.buffer.IsEmpty() {
		v, err := a.buffer.Dequeue()
		if err != nil {
			a.logger.WithError(err).Error("Window drain failed")
			break
		}
		out = append(out, v)
	}
	a.length = 0
	return out
}

func (a *Aggregator) resetLocked() {
	for !a.buffer.IsEmpty() {
		if _, err := a.buffer.Dequeue(); err != nil {
			break
		}
	}
	a.length = 0
}

func (a *Aggregator) emit(samples []float64) {
	if len(samples) == 0 {
		return
	}
	a.submitted.Add(1)
	a.logger.WithField("samples", len(samples)).Debug("Submitting window")
	a.submit(samples)
}
