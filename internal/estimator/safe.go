package estimator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Safe wraps an Estimator so it never fails: errors, panics and empty results
// degrade to a zero Estimate, and risk scores are clamped to 0..100.
type Safe struct {
	inner  Estimator
	logger *logrus.Logger
}

func NewSafe(inner Estimator, logger *logrus.Logger) (*Safe, error) {
	if inner == nil {
		return nil, errors.New("estimator: inner estimator is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Safe{inner: inner, logger: logger}, nil
}

func (s *Safe) PredictBloodPressure(ctx context.Context, samples []float64) (est Estimate, _ error) {
	defer func() {
		if r := recover(); r != nil {
			s.logFailure("predict", fmt.Errorf("panic: %v", r))
			est = Estimate{}
		}
	}()

	est, err := s.inner.PredictBloodPressure(ctx, samples)
	if err != nil {
		s.logFailure("predict", err)
		return Estimate{}, nil
	}
	if est.Systolic < 0 || est.Diastolic < 0 {
		s.logger.WithField("estimate", est.String()).Warn("Discarding negative estimate")
		return Estimate{}, nil
	}
	return est, nil
}

func (s *Safe) PredictRisk(ctx context.Context, systolic, diastolic []int) (score int, _ error) {
	defer func() {
		if r := recover(); r != nil {
			s.logFailure("risk", fmt.Errorf("panic: %v", r))
			score = 0
		}
	}()

	score, err := s.inner.PredictRisk(ctx, systolic, diastolic)
	if err != nil {
		s.logFailure("risk", err)
		return 0, nil
	}
	return clamp(score, 0, 100), nil
}

func (s *Safe) logFailure(op string, err error) {
	entry := s.logger.WithFields(logrus.Fields{"operation": op, "error": err})
	if errors.Is(err, ErrNoEstimate) {
		entry.Debug("Estimator produced no result")
		return
	}
	entry.Warn("Estimator failed, using zero result")
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
