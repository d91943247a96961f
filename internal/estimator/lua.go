package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon"
)

const (
	predictFunc = "predict"
	riskFunc    = "risk"
)

// ScriptError reports a failure inside the estimator script.
type ScriptError struct {
	Type    string // "syntax", "runtime", "api"
	Func    string
	Source  string
	Message string
}

func (e *ScriptError) Error() string {
	parts := []string{}
	if e.Source != "" {
		parts = append(parts, "in "+e.Source)
	}
	if e.Func != "" {
		parts = append(parts, e.Func+"()")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("estimator %s error: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("estimator %s error (%s): %s", e.Type, strings.Join(parts, ", "), e.Message)
}

func (e *ScriptError) Is(target error) bool {
	var se *ScriptError
	if errors.As(target, &se) {
		return e.Type == se.Type
	}
	return false
}

// LuaEstimator runs the predict and risk hooks of a Lua script.
// A single Lua state is shared; calls are serialized.
type LuaEstimator struct {
	stateMutex sync.Mutex
	state      *lua.State
	source     string
	logger     *logrus.Logger
}

// NewLua loads script into a fresh Lua state. name is used in error messages.
func NewLua(script, name string, logger *logrus.Logger) (*LuaEstimator, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(script) == "" {
		return nil, &ScriptError{Type: "api", Source: name, Message: "empty script"}
	}

	L := lua.NewState()
	L.OpenLibs()
	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, &ScriptError{Type: "syntax", Source: name, Message: err.Error()}
	}

	e := &LuaEstimator{state: L, source: name, logger: logger}
	for _, fn := range []string{predictFunc, riskFunc} {
		if !e.hasFunction(fn) {
			e.Close()
			return nil, &ScriptError{Type: "api", Source: name, Func: fn, Message: "function not defined"}
		}
	}

	logger.WithField("script", name).Debug("Estimator script loaded")
	return e, nil
}

// NewDefaultLua loads the embedded estimator script.
func NewDefaultLua(logger *logrus.Logger) (*LuaEstimator, error) {
	return NewLua(bpmon.DefaultEstimatorScript, "estimator.lua", logger)
}

// LoadLuaFile reads and loads a script from disk.
func LoadLuaFile(path string, logger *logrus.Logger) (*LuaEstimator, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read estimator script %s: %w", path, err)
	}
	return NewLua(string(content), path, logger)
}

func (e *LuaEstimator) PredictBloodPressure(ctx context.Context, samples []float64) (Estimate, error) {
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}

	var est Estimate
	err := e.withState(predictFunc, func(L *lua.State) error {
		L.GetGlobal(predictFunc)
		L.CreateTable(len(samples), 0)
		for i, v := range samples {
			L.PushInteger(int64(i + 1))
			L.PushNumber(v)
			L.SetTable(-3)
		}
		if err := L.Call(1, 2); err != nil {
			return e.runtimeError(predictFunc, err)
		}
		if L.IsNil(-2) {
			return ErrNoEstimate
		}
		if !L.IsNumber(-2) || !L.IsNumber(-1) {
			return &ScriptError{Type: "api", Source: e.source, Func: predictFunc, Message: "expected two numbers"}
		}
		est = Estimate{
			Systolic:  toInt(L.ToNumber(-2)),
			Diastolic: toInt(L.ToNumber(-1)),
		}
		return nil
	})
	return est, err
}

func (e *LuaEstimator) PredictRisk(ctx context.Context, systolic, diastolic []int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var score int
	err := e.withState(riskFunc, func(L *lua.State) error {
		L.GetGlobal(riskFunc)
		pushIntArray(L, systolic)
		pushIntArray(L, diastolic)
		if err := L.Call(2, 1); err != nil {
			return e.runtimeError(riskFunc, err)
		}
		if !L.IsNumber(-1) {
			return &ScriptError{Type: "api", Source: e.source, Func: riskFunc, Message: "expected a number"}
		}
		score = toInt(L.ToNumber(-1))
		return nil
	})
	return score, err
}

// Close releases the Lua state. Later calls fail with a ScriptError.
func (e *LuaEstimator) Close() {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}

func (e *LuaEstimator) hasFunction(name string) bool {
	ok := false
	_ = e.withState(name, func(L *lua.State) error {
		L.GetGlobal(name)
		ok = L.IsFunction(-1)
		return nil
	})
	return ok
}

// withState runs fn under the state lock and restores the stack afterwards.
func (e *LuaEstimator) withState(fn string, run func(L *lua.State) error) error {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if e.state == nil {
		return &ScriptError{Type: "api", Source: e.source, Func: fn, Message: "estimator closed"}
	}
	top := e.state.GetTop()
	defer e.state.SetTop(top)
	return run(e.state)
}

func (e *LuaEstimator) runtimeError(fn string, err error) error {
	e.logger.WithFields(logrus.Fields{
		"function": fn,
		"script":   e.source,
		"error":    err,
	}).Debug("Estimator script call failed")
	return &ScriptError{Type: "runtime", Source: e.source, Func: fn, Message: err.Error()}
}

func pushIntArray(L *lua.State, values []int) {
	L.CreateTable(len(values), 0)
	for i, v := range values {
		L.PushInteger(int64(i + 1))
		L.PushInteger(int64(v))
		L.SetTable(-3)
	}
}

// toInt truncates toward zero; non-finite values become 0.
func toInt(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(v)
}
