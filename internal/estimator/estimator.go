// Package estimator turns analysis windows into blood-pressure estimates and
// readings series into a cardiovascular risk score.
package estimator

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoEstimate is returned when the model produced no value for a window.
var ErrNoEstimate = errors.New("no estimate produced")

// Estimate is one systolic/diastolic pair in mmHg.
type Estimate struct {
	Systolic  int
	Diastolic int
}

// IsZero reports whether e is the degraded "no reading" value.
func (e Estimate) IsZero() bool {
	return e.Systolic == 0 && e.Diastolic == 0
}

func (e Estimate) String() string {
	return fmt.Sprintf("%d/%d", e.Systolic, e.Diastolic)
}

// Estimator is the prediction engine. Implementations may be slow; callers
// run them off the ingestion path.
type Estimator interface {
	PredictBloodPressure(ctx context.Context, samples []float64) (Estimate, error)
	// PredictRisk scores paired systolic and diastolic series, 0..100.
	PredictRisk(ctx context.Context, systolic, diastolic []int) (int, error)
}

// Funcs adapts plain functions to Estimator. A nil field reports ErrNoEstimate.
type Funcs struct {
	Predict func(ctx context.Context, samples []float64) (Estimate, error)
	Risk    func(ctx context.Context, systolic, diastolic []int) (int, error)
}

func (f Funcs) PredictBloodPressure(ctx context.Context, samples []float64) (Estimate, error) {
	if f.Predict == nil {
		return Estimate{}, ErrNoEstimate
	}
	return f.Predict(ctx, samples)
}

func (f Funcs) PredictRisk(ctx context.Context, systolic, diastolic []int) (int, error) {
	if f.Risk == nil {
		return 0, ErrNoEstimate
	}
	return f.Risk(ctx, systolic, diastolic)
}
