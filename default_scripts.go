package bpmon

import _ "embed"

// DefaultEstimatorScript is the embedded estimator.lua: risk scoring table and
// a predict hook that reports "no estimate" until a model script is supplied.
//
//go:embed scripts/estimator.lua
var DefaultEstimatorScript string
