package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
)

// NewTestLogger returns a logger with debug logs enabled to track execution flow.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// Receive waits up to timeout for the next value on ch.
// ok is false on timeout or when ch is closed.
func Receive[T any](ch <-chan T, timeout time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-ch:
		return v, ok
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// ReceiveN collects n values from ch, stopping early on timeout.
func ReceiveN[T any](ch <-chan T, n int, timeout time.Duration) []T {
	out := make([]T, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-deadline:
			return out
		}
	}
	return out
}

// Eventually polls cond every 5ms until it holds or timeout elapses.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
