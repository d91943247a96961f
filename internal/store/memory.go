package store

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps the history in process memory. Lookups by range use a
// sorted timestamp index.
type MemoryStore struct {
	mu       sync.RWMutex
	readings map[int64]Reading
	index    []int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{readings: make(map[int64]Reading)}
}

func (m *MemoryStore) GetByTimestamp(ctx context.Context, timestamp int64) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.readings[timestamp]
	if !ok {
		return Reading{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) GetLatest(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.index) == 0 {
		return Reading{}, ErrNotFound
	}
	return m.readings[m.index[len(m.index)-1]], nil
}

func (m *MemoryStore) GetRange(ctx context.Context, start, end int64) ([]Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Reading{}
	if start > end {
		return out, nil
	}
	from, _ := slices.BinarySearch(m.index, start)
	for _, ts := range m.index[from:] {
		if ts > end {
			break
		}
		out = append(out, m.readings[ts])
	}
	return out, nil
}

func (m *MemoryStore) Insert(ctx context.Context, r Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(r)
	return nil
}

func (m *MemoryStore) InsertMany(ctx context.Context, rs []Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rs {
		m.putLocked(r)
	}
	return nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = make(map[int64]Reading)
	m.index = nil
	return nil
}

func (m *MemoryStore) ReplaceAll(ctx context.Context, rs []Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = make(map[int64]Reading, len(rs))
	m.index = nil
	for _, r := range rs {
		m.putLocked(r)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) putLocked(r Reading) {
	if _, exists := m.readings[r.Timestamp]; !exists {
		i, _ := slices.BinarySearch(m.index, r.Timestamp)
		m.index = slices.Insert(m.index, i, r.Timestamp)
	}
	m.readings[r.Timestamp] = r
}
