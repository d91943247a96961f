// Package reading records estimates into the store, publishes the latest
// reading and answers bucketed history queries.
package reading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/estimator"
	"github.com/srg/bpmon/internal/ringchan"
	"github.com/srg/bpmon/internal/store"
)

// Sink receives every successfully stored reading.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r store.Reading) error
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithClock replaces time.Now for timestamping.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// WithSinks adds downstream publishers.
func WithSinks(sinks ...Sink) WriterOption {
	return func(w *Writer) { w.sinks = append(w.sinks, sinks...) }
}

// Writer is the single writer of the latest reading.
type Writer struct {
	store  store.Store
	sinks  []Sink
	now    func() time.Time
	logger *logrus.Logger

	mu     sync.Mutex
	latest atomic.Pointer[store.Reading]
	subs   *ringchan.Broadcaster[store.Reading]
}

func NewWriter(s store.Store, logger *logrus.Logger, opts ...WriterOption) (*Writer, error) {
	if s == nil {
		return nil, errors.New("reading: store is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	w := &Writer{
		store:  s,
		now:    time.Now,
		logger: logger,
		subs:   ringchan.NewBroadcaster[store.Reading](),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Record stamps est with the current time, stores it and publishes it as the
// latest reading. On a store failure nothing is published.
func (w *Writer) Record(ctx context.Context, est estimator.Estimate) (store.Reading, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := store.Reading{
		Timestamp: w.now().UnixMilli(),
		Systolic:  est.Systolic,
		Diastolic: est.Diastolic,
	}

	if err := w.store.Insert(ctx, r); err != nil {
		w.logger.WithFields(logrus.Fields{
			"timestamp": r.Timestamp,
			"error":     err,
		}).Error("Failed to store reading")
		return store.Reading{}, fmt.Errorf("failed to store reading: %w", err)
	}

	w.latest.Store(&r)
	w.subs.Publish(r)

	w.logger.WithFields(logrus.Fields{
		"timestamp": r.Timestamp,
		"systolic":  r.Systolic,
		"diastolic": r.Diastolic,
	}).Info("Reading recorded")

	for _, sink := range w.sinks {
		if err := sink.Publish(ctx, r); err != nil {
			w.logger.WithFields(logrus.Fields{
				"sink":  sink.Name(),
				"error": err,
			}).Warn("Failed to publish reading")
		}
	}
	return r, nil
}

// Latest returns the most recently recorded reading, if any.
func (w *Writer) Latest() (store.Reading, bool) {
	r := w.latest.Load()
	if r == nil {
		return store.Reading{}, false
	}
	return *r, true
}

// Subscribe streams every subsequently recorded reading.
func (w *Writer) Subscribe() (<-chan store.Reading, func()) {
	return w.subs.Subscribe(16)
}

// Close ends all subscriptions.
func (w *Writer) Close() {
	w.subs.Close()
}
