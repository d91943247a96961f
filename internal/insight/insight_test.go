package insight_test

import (
	"context"
	"errors"
	"testing"

	"github.com/srg/bpmon/internal/estimator"
	"github.com/srg/bpmon/internal/insight"
	"github.com/srg/bpmon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readings(pairs ...[2]int) []store.Reading {
	out := make([]store.Reading, 0, len(pairs))
	for i, p := range pairs {
		out = append(out, store.Reading{Timestamp: int64(i) * 1000, Systolic: p[0], Diastolic: p[1]})
	}
	return out
}

func TestAnalyzeHealthy(t *testing.T) {
	var gotSys, gotDia []int
	scorer := estimator.Funcs{Risk: func(_ context.Context, sys, dia []int) (int, error) {
		gotSys, gotDia = sys, dia
		return 5, nil
	}}

	s, err := insight.Analyze(context.Background(), readings([2]int{110, 70}, [2]int{115, 75}), scorer)
	require.NoError(t, err)

	assert.Equal(t, 112, s.AverageSystolic, "averages MUST truncate")
	assert.Equal(t, 72, s.AverageDiastolic)
	assert.Equal(t, 5, s.RiskScore)
	assert.Equal(t, []int{112}, gotSys, "risk MUST be scored on the averages")
	assert.Equal(t, []int{72}, gotDia)
	assert.InDelta(t, 5.0, s.Variability, 1e-9)
	assert.Equal(t, 10, s.StressScore)

	require.Len(t, s.Insights, 2)
	assert.Equal(t, insight.SeverityLow, s.Insights[0].Severity)
	assert.Equal(t, "Morning Surge", s.Insights[1].Title)
}

func TestAnalyzeVariability(t *testing.T) {
	s, err := insight.Analyze(context.Background(), readings([2]int{110, 70}, [2]int{150, 85}, [2]int{115, 80}), nil)
	require.NoError(t, err)

	assert.InDelta(t, 37.5, s.Variability, 1e-9)
	assert.Equal(t, 75, s.StressScore)
	require.Len(t, s.Insights, 3, "high variability MUST add an insight")
	assert.Equal(t, "Blood Pressure Variability", s.Insights[1].Title)
	assert.Equal(t, insight.SeverityMedium, s.Insights[1].Severity)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		sys, dia int
		severity insight.Severity
		action   bool
	}{
		{119, 79, insight.SeverityLow, false},
		{120, 79, insight.SeverityMedium, false},
		{119, 80, insight.SeverityMedium, false},
		{139, 89, insight.SeverityMedium, false},
		{140, 70, insight.SeverityHigh, true},
		{110, 95, insight.SeverityHigh, true},
	}
	for _, tt := range tests {
		got := insight.Classify(tt.sys, tt.dia)
		assert.Equal(t, tt.severity, got.Severity, "%d/%d", tt.sys, tt.dia)
		assert.Equal(t, tt.action, got.ActionNeeded, "%d/%d", tt.sys, tt.dia)
	}
}

func TestStressScoreClamp(t *testing.T) {
	assert.Equal(t, 0, insight.StressScore(0))
	assert.Equal(t, 41, insight.StressScore(20.7))
	assert.Equal(t, 100, insight.StressScore(80))
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := insight.Analyze(context.Background(), nil, nil)
	assert.ErrorIs(t, err, insight.ErrNoReadings)

	scorer := estimator.Funcs{Risk: func(context.Context, []int, []int) (int, error) {
		return 0, errors.New("model offline")
	}}
	_, err = insight.Analyze(context.Background(), readings([2]int{120, 80}), scorer)
	assert.ErrorContains(t, err, "model offline")
}
