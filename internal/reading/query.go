package reading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/srg/bpmon/internal/store"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrInvalidBucket = errors.New("bucket width must be positive")
	ErrInvalidRange  = errors.New("range start is after end")
)

type bucket struct {
	first     int64
	systolic  int64
	diastolic int64
	count     int64
}

// AveragedReadings returns one reading per non-empty bucket of width
// bucketWidth over [start, end] (epoch millis, inclusive). Each result carries
// the truncated mean pressures of its bucket and the timestamp of the bucket's
// first reading. Results are ascending; empty buckets are omitted.
func AveragedReadings(ctx context.Context, s store.Store, start, end int64, bucketWidth time.Duration) ([]store.Reading, error) {
	width := bucketWidth.Milliseconds()
	if width <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBucket, bucketWidth)
	}
	if start > end {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidRange, start, end)
	}

	readings, err := s.GetRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}
	return Bucketize(readings, width), nil
}

// Bucketize groups ascending readings by floor(timestamp / width).
func Bucketize(readings []store.Reading, width int64) []store.Reading {
	buckets := orderedmap.New[int64, *bucket]()
	for _, r := range readings {
		key := floorDiv(r.Timestamp, width)
		b, ok := buckets.Get(key)
		if !ok {
			b = &bucket{first: r.Timestamp}
			buckets.Set(key, b)
		}
		b.systolic += int64(r.Systolic)
		b.diastolic += int64(r.Diastolic)
		b.count++
	}

	out := make([]store.Reading, 0, buckets.Len())
	for pair := buckets.Oldest(); pair != nil; pair = pair.Next() {
		b := pair.Value
		out = append(out, store.Reading{
			Timestamp: b.first,
			Systolic:  int(b.systolic / b.count),
			Diastolic: int(b.diastolic / b.count),
		})
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Preset is a named chart range.
type Preset struct {
	Name   string
	Span   time.Duration
	Bucket time.Duration
}

var presets = []Preset{
	{Name: "day", Span: 24 * time.Hour, Bucket: time.Hour},
	{Name: "week", Span: 7 * 24 * time.Hour, Bucket: 24 * time.Hour},
	{Name: "month", Span: 30 * 24 * time.Hour, Bucket: 7 * 24 * time.Hour},
}

// Presets lists the available chart ranges.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// PresetByName looks up a preset, case-insensitively.
func PresetByName(name string) (Preset, error) {
	for _, p := range presets {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	names := make([]string, 0, len(presets))
	for _, p := range presets {
		names = append(names, p.Name)
	}
	return Preset{}, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(names, ", "))
}

// Range returns the [start, end] window ending at now.
func (p Preset) Range(now time.Time) (int64, int64) {
	return now.Add(-p.Span).UnixMilli(), now.UnixMilli()
}

// Query runs AveragedReadings over the preset window ending at now.
func (p Preset) Query(ctx context.Context, s store.Store, now time.Time) ([]store.Reading, error) {
	start, end := p.Range(now)
	return AveragedReadings(ctx, s, start, end, p.Bucket)
}
