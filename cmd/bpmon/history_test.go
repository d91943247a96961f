package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/srg/bpmon/internal/insight"
	"github.com/srg/bpmon/internal/store"
	"github.com/srg/bpmon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type HistoryCommandsTestSuite struct {
	CommandTestSuite
	seedCSV string
}

func ms(d time.Duration) int64 {
	return fixedNow.Add(d).UnixMilli()
}

func (s *HistoryCommandsTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.seedCSV = s.WriteFile("history.csv", fmt.Sprintf(`timestamp,systolic,diastolic
%d,140,95
%d,120,80
%d,130,90
%d,110,70
`, ms(-48*time.Hour), ms(-3*time.Hour), ms(-150*time.Minute), ms(-time.Hour)))
}

func (s *HistoryCommandsTestSuite) TestReadingsDayPreset() {
	// GOAL: Verify the day preset averages readings into hourly buckets
	//
	// TEST SCENARIO: Seed four readings, two in the same hour and one two days old → query day → two rows
	out, err := s.ExecuteCommand("readings", "--seed", s.seedCSV, "--preset", "day")
	s.Require().NoError(err, "readings MUST succeed")

	testutils.NewTextAsserter(s.T()).Assert(out, `
TIME  SYSTOLIC  DIASTOLIC
--------------------------------------------
2026-10-19T09:00:00Z  125  85
2026-10-19T11:00:00Z  110  70
`)
}

func (s *HistoryCommandsTestSuite) TestReadingsJSON() {
	// GOAL: Verify JSON output carries bucket-start timestamps and truncated means
	//
	// TEST SCENARIO: Query week preset with 1-day buckets → the old reading and today's bucket
	out, err := s.ExecuteCommand("readings", "--seed", s.seedCSV, "--preset", "week", "--format", "json")
	s.Require().NoError(err, "readings MUST succeed")

	testutils.NewJSONAsserter(s.T()).Assert(out, fmt.Sprintf(`[
		{"timestamp": %d, "systolic": 140, "diastolic": 95},
		{"timestamp": %d, "systolic": 120, "diastolic": 80}
	]`, ms(-48*time.Hour), ms(-3*time.Hour)))
}

func (s *HistoryCommandsTestSuite) TestReadingsExplicitRange() {
	// GOAL: Verify --from/--to/--bucket override the preset
	//
	// TEST SCENARIO: 30 minute buckets over the morning → 09:00 and 09:30 are separate rows
	out, err := s.ExecuteCommand("readings", "--seed", s.seedCSV,
		"--from", "2026-10-19T08:00:00Z", "--to", "2026-10-19T10:00:00Z", "--bucket", "30m")
	s.Require().NoError(err, "readings MUST succeed")

	testutils.NewTextAsserter(s.T()).Assert(out, `
TIME  SYSTOLIC  DIASTOLIC
--------------------------------------------
2026-10-19T09:00:00Z  120  80
2026-10-19T09:30:00Z  130  90
`)
}

func (s *HistoryCommandsTestSuite) TestReadingsEmpty() {
	out, err := s.ExecuteCommand("readings")
	s.Require().NoError(err)
	s.Contains(out, "No readings in range")
}

func (s *HistoryCommandsTestSuite) TestReadingsArgumentErrors() {
	tests := []struct {
		name    string
		args    []string
		errText string
	}{
		{name: "unknown preset", args: []string{"--preset", "year"}, errText: "available: day, week, month"},
		{name: "to without from", args: []string{"--to", "2026-10-19T10:00:00Z"}, errText: "--to requires --from"},
		{name: "malformed from", args: []string{"--from", "yesterday"}, errText: "invalid --from"},
		{name: "zero bucket", args: []string{"--from", "2026-10-19T08:00:00Z", "--bucket", "0s"}, errText: "bucket width must be positive"},
		{name: "inverted range", args: []string{"--from", "2026-10-19T10:00:00Z", "--to", "2026-10-19T08:00:00Z"}, errText: "range start is after end"},
		{name: "unknown format", args: []string{"--format", "xml"}, errText: "invalid format"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.ExecuteCommand(append([]string{"readings"}, tt.args...)...)
			s.Require().Error(err, "invalid arguments MUST fail")
			s.Contains(err.Error(), tt.errText)
		})
	}
}

func (s *HistoryCommandsTestSuite) TestLatest() {
	out, err := s.ExecuteCommand("latest", "--seed", s.seedCSV)
	s.Require().NoError(err, "latest MUST succeed")
	s.Contains(out, "2026-10-19T11:00:00Z  110/70 mmHg\n")
}

func (s *HistoryCommandsTestSuite) TestLatestWithoutHistory() {
	_, err := s.ExecuteCommand("latest")
	s.Require().ErrorIs(err, store.ErrNotFound)
	s.Equal("no readings recorded yet", FormatUserError(err))
}

func (s *HistoryCommandsTestSuite) TestSeedMergesAndReplaces() {
	// GOAL: Verify seed merges by default and replaces the history with --replace
	//
	// TEST SCENARIO: Pre-insert one unrelated reading → seed → 5 readings; seed --replace → 4 readings
	ctx := context.Background()
	s.Require().NoError(s.Store.Insert(ctx, store.Reading{Timestamp: 1, Systolic: 100, Diastolic: 60}))

	out, err := s.ExecuteCommand("seed", s.seedCSV)
	s.Require().NoError(err, "seed MUST succeed")
	s.Contains(out, "Imported 4 reading(s) into memory store")
	all, err := s.Store.GetRange(ctx, 0, ms(0))
	s.Require().NoError(err)
	s.Len(all, 5, "seed MUST merge into existing history")

	_, err = s.ExecuteCommand("seed", "--replace", s.seedCSV)
	s.Require().NoError(err, "seed --replace MUST succeed")
	all, err = s.Store.GetRange(ctx, 0, ms(0))
	s.Require().NoError(err)
	s.Len(all, 4, "seed --replace MUST drop previous history")
	s.Equal(ms(-48*time.Hour), all[0].Timestamp)
}

func (s *HistoryCommandsTestSuite) TestSeedRejectsMalformedFile() {
	bad := s.WriteFile("bad.csv", "timestamp,systolic,diastolic\n1,120,80\n2,abc,80\n")

	_, err := s.ExecuteCommand("seed", bad)
	s.Require().Error(err, "malformed csv MUST fail")
	s.Contains(err.Error(), "csv line 3")

	all, err := s.Store.GetRange(context.Background(), 0, ms(0))
	s.Require().NoError(err)
	s.Empty(all, "nothing MUST be imported from a malformed file")
}

func (s *HistoryCommandsTestSuite) TestInsights() {
	// GOAL: Verify the weekly summary and insights over raw readings
	//
	// TEST SCENARIO: Four readings averaging 125/83 → medium status, stress from variability, risk from the estimator
	out, err := s.ExecuteCommand("insights", "--seed", s.seedCSV)
	s.Require().NoError(err, "insights MUST succeed")

	testutils.NewTextAsserter(s.T()).Assert(out, `
Last week (4 readings)
  Average:      125/83 mmHg
  Variability:  16.7 mmHg
  Stress score: 33/100
  Risk score:   20/100

[medium] Blood Pressure Status
    Your blood pressure is slightly above normal. Consider mentioning it at your next check-up.
[low] Morning Surge
    Blood pressure is usually highest in the morning and lowest at night. A large morning surge can be a risk factor worth raising with your GP.
`)
}

func (s *HistoryCommandsTestSuite) TestInsightsWithoutReadings() {
	_, err := s.ExecuteCommand("insights", "--preset", "day")
	s.Require().ErrorIs(err, insight.ErrNoReadings)
}

func TestHistoryCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(HistoryCommandsTestSuite))
}
