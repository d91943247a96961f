package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NormalizeUUID converts a UUID string to a comparable form (lowercase, no dashes,
// no 0x prefix). 128-bit UUIDs in the Bluetooth SIG base
// (0000xxxx-0000-1000-8000-00805f9b34fb) are reduced to their 16-bit short form.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, "00001000800000805f9b34fb") {
		return s[4:8]
	}
	return s
}

// SameUUID reports whether two UUID strings identify the same attribute.
func SameUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ValidateUUID checks that each value is either a 16-bit short UUID or a
// well-formed 128-bit UUID.
func ValidateUUID(uuids ...string) error {
	if len(uuids) == 0 {
		return fmt.Errorf("at least one UUID is required")
	}
	for i, u := range uuids {
		if u == "" {
			return fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		n := NormalizeUUID(u)
		if len(n) == 4 {
			continue
		}
		if _, err := uuid.Parse(u); err != nil {
			return fmt.Errorf("invalid UUID format at index %d: %s: %w", i, u, err)
		}
	}
	return nil
}
