package permission

import (
	"context"
)

// CapabilityProbe reports the current grant of each capability it knows about.
// Capabilities absent from the result are treated as not granted.
type CapabilityProbe interface {
	Granted(ctx context.Context) (map[Capability]bool, error)
}

// StaticProbe reports a fixed grant set. It backs platforms where the OS does
// not expose BLE grants to the process (the OS prompts on first use instead).
type StaticProbe map[Capability]bool

// Granted returns a copy of the static grant set.
func (p StaticProbe) Granted(context.Context) (map[Capability]bool, error) {
	out := make(map[Capability]bool, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out, nil
}

// GrantAll returns a StaticProbe granting every listed capability.
func GrantAll(caps ...Capability) StaticProbe {
	p := make(StaticProbe, len(caps))
	for _, c := range caps {
		p[c] = true
	}
	return p
}
