// Package publish fans the latest stored reading out to external systems.
package publish

import (
	"encoding/json"
	"time"

	"github.com/srg/bpmon/internal/store"
)

// Payload is the wire form of a published reading.
type Payload struct {
	Timestamp  int64  `json:"timestamp"`
	RecordedAt string `json:"recorded_at"`
	Systolic   int    `json:"systolic"`
	Diastolic  int    `json:"diastolic"`
	Device     string `json:"device,omitempty"`
}

// Encode renders r as a JSON payload. device may be empty.
func Encode(r store.Reading, device string) ([]byte, error) {
	return json.Marshal(Payload{
		Timestamp:  r.Timestamp,
		RecordedAt: time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339),
		Systolic:   r.Systolic,
		Diastolic:  r.Diastolic,
		Device:     device,
	})
}
