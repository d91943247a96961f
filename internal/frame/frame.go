// Package frame decodes the sensor notification payload into samples.
//
// A frame is a sequence of little-endian signed 16-bit integers; each one is a
// sample. Frames of odd length cannot be split into whole samples and are
// rejected as a unit.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// SampleSize is the encoded width of one sample in bytes.
const SampleSize = 2

// ErrOddLength is returned for frames that are not a whole number of samples.
var ErrOddLength = errors.New("frame length is not a multiple of sample size")

// Decode converts a raw frame into len(raw)/2 samples in arrival order.
// An empty frame yields an empty, non-nil slice.
func Decode(raw []byte) ([]float64, error) {
	if len(raw)%SampleSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(raw))
	}

	samples := make([]float64, len(raw)/SampleSize)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(raw[i*SampleSize:])))
	}
	return samples, nil
}

// Encode is the inverse of Decode; values are truncated to int16.
func Encode(samples []int16) []byte {
	raw := make([]byte, len(samples)*SampleSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*SampleSize:], uint16(s))
	}
	return raw
}

// Metrics is a point-in-time copy of decoder counters.
type Metrics struct {
	Frames  uint64
	Samples uint64
	Dropped uint64
}

// Decoder wraps Decode with logging and counters for use on the processing path.
type Decoder struct {
	logger *logrus.Logger

	frames  atomic.Uint64
	samples atomic.Uint64
	dropped atomic.Uint64
}

func NewDecoder(logger *logrus.Logger) *Decoder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Decoder{logger: logger}
}

// Decode returns the samples of raw, or nil when the frame was dropped.
func (d *Decoder) Decode(raw []byte) []float64 {
	samples, err := Decode(raw)
	if err != nil {
		d.dropped.Add(1)
		d.logger.WithFields(logrus.Fields{
			"length": len(raw),
			"error":  err,
		}).Warn("Dropping malformed frame")
		return nil
	}

	d.frames.Add(1)
	d.samples.Add(uint64(len(samples)))
	return samples
}

// Metrics returns the current counters.
func (d *Decoder) Metrics() Metrics {
	return Metrics{
		Frames:  d.frames.Load(),
		Samples: d.samples.Load(),
		Dropped: d.dropped.Load(),
	}
}
