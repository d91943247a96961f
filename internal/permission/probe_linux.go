//go:build linux

package permission

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// ProcessProbe derives BLE grants from the effective capability set of the
// current process: raw HCI scanning needs CAP_NET_RAW, connection management
// needs CAP_NET_ADMIN. Linux has no location gate for BLE, so location is
// always granted.
type ProcessProbe struct {
	capget func(hdr *unix.CapUserHeader, data *unix.CapUserData) error
}

// NewProcessProbe creates a probe reading the calling process' capabilities.
func NewProcessProbe() *ProcessProbe {
	return &ProcessProbe{capget: unix.Capget}
}

// Granted implements CapabilityProbe.
func (p *ProcessProbe) Granted(context.Context) (map[Capability]bool, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := p.capget(&hdr, &data[0]); err != nil {
		return nil, fmt.Errorf("capget: %w", err)
	}

	return map[Capability]bool{
		CapabilityScan:     hasCap(data, unix.CAP_NET_RAW),
		CapabilityConnect:  hasCap(data, unix.CAP_NET_ADMIN),
		CapabilityLocation: true,
	}, nil
}

func hasCap(data [2]unix.CapUserData, capability int) bool {
	idx, bit := capability/32, uint(capability%32)
	return data[idx].Effective&(1<<bit) != 0
}

// DefaultProbe returns the platform capability probe.
func DefaultProbe() CapabilityProbe {
	return NewProcessProbe()
}
