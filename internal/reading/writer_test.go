package reading_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/bpmon/internal/estimator"
	"github.com/srg/bpmon/internal/reading"
	"github.com/srg/bpmon/internal/store"
	"github.com/srg/bpmon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type failingStore struct {
	*store.MemoryStore
	err error
}

func (f *failingStore) Insert(context.Context, store.Reading) error { return f.err }

type recordingSink struct {
	mu   sync.Mutex
	name string
	got  []store.Reading
	err  error
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, rd store.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, rd)
	return r.err
}

type WriterTestSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.MemoryStore
	now   time.Time
}

func (s *WriterTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemoryStore()
	s.now = time.UnixMilli(1_760_000_000_000)
}

func (s *WriterTestSuite) clock() time.Time { return s.now }

func (s *WriterTestSuite) TestRecordPersistsAndPublishes() {
	// GOAL: a recorded estimate is stored, becomes latest and reaches subscribers and sinks
	//
	// TEST SCENARIO: record 121/79 at a fixed clock → store row, Latest, stream and sink agree
	sink := &recordingSink{name: "test"}
	w, err := reading.NewWriter(s.store, testutils.NewTestLogger(), reading.WithClock(s.clock), reading.WithSinks(sink))
	s.Require().NoError(err)
	defer w.Close()

	_, ok := w.Latest()
	s.False(ok, "no latest reading MUST exist before the first record")

	stream, cancel := w.Subscribe()
	defer cancel()

	r, err := w.Record(s.ctx, estimator.Estimate{Systolic: 121, Diastolic: 79})
	s.Require().NoError(err)
	expect := store.Reading{Timestamp: s.now.UnixMilli(), Systolic: 121, Diastolic: 79}
	s.Equal(expect, r)

	stored, err := s.store.GetByTimestamp(s.ctx, expect.Timestamp)
	s.Require().NoError(err)
	s.Equal(expect, stored, "reading MUST be persisted")

	latest, ok := w.Latest()
	s.True(ok)
	s.Equal(expect, latest)

	got, ok := testutils.Receive(stream, time.Second)
	s.True(ok)
	s.Equal(expect, got, "subscribers MUST see the recorded reading")
	s.Equal([]store.Reading{expect}, sink.got)
}

func (s *WriterTestSuite) TestSameMillisecondReplaces() {
	w, err := reading.NewWriter(s.store, nil, reading.WithClock(s.clock))
	s.Require().NoError(err)

	_, err = w.Record(s.ctx, estimator.Estimate{Systolic: 110, Diastolic: 70})
	s.Require().NoError(err)
	_, err = w.Record(s.ctx, estimator.Estimate{Systolic: 130, Diastolic: 85})
	s.Require().NoError(err)

	all, err := s.store.GetRange(s.ctx, 0, s.now.UnixMilli())
	s.Require().NoError(err)
	s.Equal([]store.Reading{{Timestamp: s.now.UnixMilli(), Systolic: 130, Diastolic: 85}}, all)
}

func (s *WriterTestSuite) TestStoreFailureKeepsLatest() {
	// GOAL: latest is only updated after a durable write
	//
	// TEST SCENARIO: first record succeeds; store then fails → error returned,
	// latest unchanged, sinks not called
	sink := &recordingSink{name: "test"}
	fs := &failingStore{MemoryStore: s.store}
	w, err := reading.NewWriter(fs, testutils.NewTestLogger(), reading.WithClock(s.clock), reading.WithSinks(sink))
	s.Require().NoError(err)

	first, err := w.Record(s.ctx, estimator.Estimate{Systolic: 120, Diastolic: 80})
	s.Require().NoError(err)

	fs.err = errors.New("disk full")
	s.now = s.now.Add(time.Second)
	_, err = w.Record(s.ctx, estimator.Estimate{Systolic: 150, Diastolic: 95})
	s.Error(err, "store failures MUST be returned")

	latest, ok := w.Latest()
	s.True(ok)
	s.Equal(first, latest, "latest MUST NOT change when persistence fails")
	s.Len(sink.got, 1, "sinks MUST NOT see unpersisted readings")
}

func (s *WriterTestSuite) TestSinkFailureIsIgnored() {
	sink := &recordingSink{name: "broken", err: errors.New("broker down")}
	w, err := reading.NewWriter(s.store, testutils.NewTestLogger(), reading.WithClock(s.clock), reading.WithSinks(sink))
	s.Require().NoError(err)

	r, err := w.Record(s.ctx, estimator.Estimate{Systolic: 118, Diastolic: 77})
	s.Require().NoError(err, "sink failures MUST NOT fail the record")

	latest, ok := w.Latest()
	s.True(ok)
	s.Equal(r, latest)
}

func (s *WriterTestSuite) TestNewWriterRequiresStore() {
	_, err := reading.NewWriter(nil, nil)
	s.Error(err)
}

func TestWriterTestSuite(t *testing.T) {
	suite.Run(t, new(WriterTestSuite))
}
