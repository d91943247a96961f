// Package capture keeps a rolling copy of the raw sample feed for debugging.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/bpmon/internal/frame"
)

const DefaultSamples = 2000

// Snapshot is a decoded view of the captured feed.
type Snapshot struct {
	Samples []float64
	Min     float64
	Max     float64
	Count   int
}

// Recorder holds the raw bytes of the last N samples while recording is on.
// When full, the oldest samples are discarded.
type Recorder struct {
	mu        sync.Mutex
	buf       *ringbuffer.RingBuffer
	recording atomic.Bool
	logger    *logrus.Logger
}

func New(maxSamples int, logger *logrus.Logger) (*Recorder, error) {
	if maxSamples <= 0 {
		return nil, fmt.Errorf("capture: sample limit must be positive, got %d", maxSamples)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Recorder{
		buf:    ringbuffer.New(maxSamples * frame.SampleSize),
		logger: logger,
	}, nil
}

func (r *Recorder) Start() {
	if !r.recording.Swap(true) {
		r.logger.Debug("Capture started")
	}
}

func (r *Recorder) Stop() {
	if r.recording.Swap(false) {
		r.logger.Debug("Capture stopped")
	}
}

func (r *Recorder) Recording() bool {
	return r.recording.Load()
}

// Record appends one decoded-valid frame. It is a no-op while stopped.
func (r *Recorder) Record(raw []byte) {
	if !r.recording.Load() || len(raw) == 0 {
		return
	}
	if len(raw)%frame.SampleSize != 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := r.buf.Capacity()
	if len(raw) > capacity {
		raw = raw[len(raw)-capacity:]
	}
	if need := len(raw) - r.buf.Free(); need > 0 {
		if err := r.discardLocked(need); err != nil {
			r.logger.WithError(err).Warn("Capture eviction failed, resetting")
			r.buf.Reset()
		}
	}
	if _, err := r.buf.Write(raw); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		r.logger.WithError(err).Warn("Capture write failed")
	}
}

// Snapshot decodes the captured bytes without consuming them.
func (r *Recorder) Snapshot() Snapshot {
	raw := r.bytes()
	samples, err := frame.Decode(raw)
	if err != nil {
		r.logger.WithError(err).Warn("Capture holds a partial sample")
		samples, _ = frame.Decode(raw[:len(raw)-len(raw)%frame.SampleSize])
	}

	snap := Snapshot{Samples: samples, Count: len(samples)}
	for i, v := range samples {
		if i == 0 || v < snap.Min {
			snap.Min = v
		}
		if i == 0 || v > snap.Max {
			snap.Max = v
		}
	}
	return snap
}

// WriteTo writes the raw captured bytes, oldest first.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	return bytes.NewReader(r.bytes()).WriteTo(w)
}

// Reset drops everything captured so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Reset()
}

// bytes copies the buffer content by draining and refilling it.
func (r *Recorder) bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, r.buf.Length())
	if len(out) == 0 {
		return out
	}
	n, err := r.buf.Read(out)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		r.logger.WithError(err).Warn("Capture read failed")
	}
	out = out[:n]
	if _, err := r.buf.Write(out); err != nil {
		r.logger.WithError(err).Warn("Capture restore failed")
	}
	return out
}

func (r *Recorder) discardLocked(n int) error {
	// keep sample alignment
	if n%frame.SampleSize != 0 {
		n += frame.SampleSize - n%frame.SampleSize
	}
	scratch := make([]byte, n)
	_, err := io.ReadFull(r.buf, scratch)
	return err
}
