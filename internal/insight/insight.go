// Package insight summarizes a readings history for the user.
package insight

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/srg/bpmon/internal/store"
)

// ErrNoReadings is returned by Analyze for an empty history.
var ErrNoReadings = errors.New("no readings to analyze")

// VariabilityThreshold is the mean consecutive systolic change above which a
// variability insight is raised.
const VariabilityThreshold = 20.0

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

type Insight struct {
	Title        string
	Description  string
	Severity     Severity
	ActionNeeded bool
}

type Summary struct {
	AverageSystolic  int
	AverageDiastolic int
	RiskScore        int
	StressScore      int
	Variability      float64
	Insights         []Insight
}

// RiskScorer scores averaged pressures 0..100.
type RiskScorer interface {
	PredictRisk(ctx context.Context, systolic, diastolic []int) (int, error)
}

// Analyze computes averages, variability, stress and risk scores and the
// resulting insights. A risk scoring failure is returned as is.
func Analyze(ctx context.Context, readings []store.Reading, scorer RiskScorer) (Summary, error) {
	if len(readings) == 0 {
		return Summary{}, ErrNoReadings
	}

	var sumSys, sumDia int64
	for _, r := range readings {
		sumSys += int64(r.Systolic)
		sumDia += int64(r.Diastolic)
	}
	s := Summary{
		AverageSystolic:  int(sumSys / int64(len(readings))),
		AverageDiastolic: int(sumDia / int64(len(readings))),
		Variability:      Variability(readings),
	}
	s.StressScore = StressScore(s.Variability)

	if scorer != nil {
		risk, err := scorer.PredictRisk(ctx, []int{s.AverageSystolic}, []int{s.AverageDiastolic})
		if err != nil {
			return Summary{}, fmt.Errorf("failed to score risk: %w", err)
		}
		s.RiskScore = risk
	}

	s.Insights = append(s.Insights, Classify(s.AverageSystolic, s.AverageDiastolic))
	if len(readings) >= 2 && s.Variability > VariabilityThreshold {
		s.Insights = append(s.Insights, Insight{
			Title: "Blood Pressure Variability",
			Description: "Your readings vary noticeably from one to the next, which can point to " +
				"underlying conditions. Consider discussing this with your GP.",
			Severity: SeverityMedium,
		})
	}
	s.Insights = append(s.Insights, Insight{
		Title: "Morning Surge",
		Description: "Blood pressure is usually highest in the morning and lowest at night. " +
			"A large morning surge can be a risk factor worth raising with your GP.",
		Severity: SeverityLow,
	})
	return s, nil
}

// Classify maps average pressures to a status insight.
func Classify(systolic, diastolic int) Insight {
	switch {
	case systolic < 120 && diastolic < 80:
		return Insight{
			Title:       "Blood Pressure Status",
			Description: "Your blood pressure appears to be healthy.",
			Severity:    SeverityLow,
		}
	case systolic < 140 && diastolic < 90:
		return Insight{
			Title: "Blood Pressure Status",
			Description: "Your blood pressure is slightly above normal. Consider mentioning it " +
				"at your next check-up.",
			Severity: SeverityMedium,
		}
	default:
		return Insight{
			Title: "Blood Pressure Status",
			Description: "Your readings are higher than normal. Schedule a check-up with your " +
				"GP to discuss your cardiovascular health.",
			Severity:     SeverityHigh,
			ActionNeeded: true,
		}
	}
}

// Variability is the mean absolute difference between consecutive systolic
// values; 0 for fewer than two readings.
func Variability(readings []store.Reading) float64 {
	if len(readings) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(readings); i++ {
		total += math.Abs(float64(readings[i].Systolic - readings[i-1].Systolic))
	}
	return total / float64(len(readings)-1)
}

// StressScore is twice the variability, truncated and clamped to 0..100.
func StressScore(variability float64) int {
	return max(0, min(int(variability*2), 100))
}
