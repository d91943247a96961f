// Package store persists blood-pressure readings keyed by their timestamp.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no reading matches a lookup.
var ErrNotFound = errors.New("reading not found")

// Reading is one estimate. Timestamp is epoch milliseconds and is unique.
type Reading struct {
	Timestamp int64 `json:"timestamp"`
	Systolic  int   `json:"systolic"`
	Diastolic int   `json:"diastolic"`
}

func (r Reading) String() string {
	return fmt.Sprintf("%d/%d @%d", r.Systolic, r.Diastolic, r.Timestamp)
}

// Store is the read/write contract of the reading history.
// Inserting a reading whose timestamp already exists replaces it.
type Store interface {
	GetByTimestamp(ctx context.Context, timestamp int64) (Reading, error)
	GetLatest(ctx context.Context) (Reading, error)
	// GetRange returns readings with start <= timestamp <= end, ascending.
	GetRange(ctx context.Context, start, end int64) ([]Reading, error)
	Insert(ctx context.Context, r Reading) error
	InsertMany(ctx context.Context, rs []Reading) error
	DeleteAll(ctx context.Context) error
	// ReplaceAll atomically swaps the whole history for rs.
	ReplaceAll(ctx context.Context, rs []Reading) error
	Close() error
}
