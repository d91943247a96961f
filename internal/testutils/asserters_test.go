package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_Defaults(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()

	assert.True(t, opts.IgnoreExtraKeys, "IgnoreExtraKeys MUST default to true")
	assert.False(t, opts.IgnoreArrayOrder, "IgnoreArrayOrder MUST default to false")
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "identical objects match",
			actual:   `{"systolic":120,"diastolic":80}`,
			expected: `{"systolic":120,"diastolic":80}`,
			match:    true,
		},
		{
			name:     "extra keys are ignored by default",
			actual:   `{"systolic":120,"diastolic":80,"timestamp":1}`,
			expected: `{"systolic":120,"diastolic":80}`,
			match:    true,
		},
		{
			name:     "extra keys fail when not ignored",
			opts:     []JSONOption{WithIgnoreExtraKeys(false)},
			actual:   `{"systolic":120,"timestamp":1}`,
			expected: `{"systolic":120}`,
			match:    false,
		},
		{
			name:     "value mismatch fails",
			actual:   `{"systolic":121}`,
			expected: `{"systolic":120}`,
			match:    false,
		},
		{
			name:     "root arrays are compared",
			actual:   `[{"systolic":120},{"systolic":130}]`,
			expected: `[{"systolic":120},{"systolic":130}]`,
			match:    true,
		},
		{
			name:     "array order matters by default",
			actual:   `[{"systolic":130},{"systolic":120}]`,
			expected: `[{"systolic":120},{"systolic":130}]`,
			match:    false,
		},
		{
			name:     "array order can be ignored",
			opts:     []JSONOption{WithIgnoreArrayOrder(true)},
			actual:   `[{"systolic":130},{"systolic":120}]`,
			expected: `[{"systolic":120},{"systolic":130}]`,
			match:    true,
		},
		{
			name: "ignored fields do not affect ordering",
			opts: []JSONOption{
				WithIgnoreArrayOrder(true),
				WithIgnoreExtraKeys(false),
				WithIgnoredFields("timestamp"),
			},
			actual:   `[{"systolic":120,"timestamp":9},{"systolic":120,"timestamp":1}]`,
			expected: `[{"systolic":120,"timestamp":1},{"systolic":120,"timestamp":2}]`,
			match:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff, "documents MUST match")
			} else {
				assert.NotEmpty(t, diff, "documents MUST differ")
			}
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	rt := &recordingT{}
	NewJSONAsserter(rt).Assert(`{`, `{}`)

	assert.Len(t, rt.failures, 1)
	assert.Contains(t, rt.failures[0], "invalid actual JSON")
}

func TestTextAsserter_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "trailing whitespace and outer blank lines are ignored by default",
			actual:   "\nTIME  SYS  \nnow   120\n\n",
			expected: "TIME  SYS\nnow   120",
			match:    true,
		},
		{
			name:     "ansi colors are stripped by default",
			actual:   "\x1b[32mconnected (AA:BB)\x1b[0m",
			expected: "connected (AA:BB)",
			match:    true,
		},
		{
			name:     "ansi colors compared when stripping disabled",
			opts:     []TextOption{WithStripANSI(false)},
			actual:   "\x1b[32mconnected\x1b[0m",
			expected: "connected",
			match:    false,
		},
		{
			name:     "empty lines can be ignored",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\nb",
			expected: "a\nb",
			match:    true,
		},
		{
			name:     "inner content differences fail",
			actual:   "a\nc",
			expected: "a\nb",
			match:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.Contains(t, diff, "--- expected")
				assert.Contains(t, diff, "+++ actual")
			}
		})
	}
}

func TestTextAsserter_ColoredDiff(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).WithOptions(WithEnableColors(true)).Assert("b", "a")

	assert.Len(t, rt.failures, 1)
	assert.Contains(t, rt.failures[0], "\x1b[", "colored diff MUST contain ANSI sequences")
}
