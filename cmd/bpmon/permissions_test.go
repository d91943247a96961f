package main

import (
	"testing"

	"github.com/srg/bpmon/internal/permission"
	"github.com/srg/bpmon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type PermissionsCommandTestSuite struct {
	CommandTestSuite
}

func (s *PermissionsCommandTestSuite) TestReportsGateState() {
	tests := []struct {
		name     string
		granted  permission.StaticProbe
		radioOn  bool
		expected string
	}{
		{
			name:     "all granted",
			granted:  permission.GrantAll(permission.DefaultRequired...),
			radioOn:  true,
			expected: "Ready: all capabilities granted, radio on",
		},
		{
			name: "missing capabilities",
			granted: permission.StaticProbe{
				permission.CapabilityScan:     false,
				permission.CapabilityConnect:  false,
				permission.CapabilityLocation: true,
			},
			radioOn: true,
			expected: `Missing permissions: scan, connect
Hint: run as root or grant CAP_NET_ADMIN and CAP_NET_RAW to the binary`,
		},
		{
			name:    "radio off",
			granted: permission.GrantAll(permission.DefaultRequired...),
			radioOn: false,
			expected: `Radio: adapter is powered off
Hint: power the adapter on, e.g. 'bluetoothctl power on'`,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Granted = tt.granted
			s.RadioOn = tt.radioOn

			out, err := s.ExecuteCommand("permissions")
			s.Require().NoError(err, "permissions MUST not fail")
			testutils.NewTextAsserter(s.T()).Assert(out, tt.expected)
		})
	}
}

func TestPermissionsCommandTestSuite(t *testing.T) {
	suite.Run(t, new(PermissionsCommandTestSuite))
}
