package connection

import (
	"errors"
	"time"

	"github.com/srg/bpmon/internal/device"
)

// Options configures the state machine.
type Options struct {
	// NamePrefix must appear (case-sensitive substring) in the advertised name.
	NamePrefix         string
	ServiceUUID        string
	CharacteristicUUID string

	ScanTimeout    time.Duration
	ConnectTimeout time.Duration

	MaxRetries   int
	RetryBackoff time.Duration
	// RetryableReasons lists disconnect reasons that trigger a reconnect;
	// any other reason fails the session immediately.
	RetryableReasons []device.Reason
}

// DefaultOptions returns the Group12 wearable defaults.
func DefaultOptions() Options {
	return Options{
		NamePrefix:         device.DefaultNamePrefix,
		ServiceUUID:        device.DefaultServiceUUID,
		CharacteristicUUID: device.DefaultCharacteristicUUID,
		ScanTimeout:        10 * time.Second,
		ConnectTimeout:     30 * time.Second,
		MaxRetries:         3,
		RetryBackoff:       time.Second,
		RetryableReasons:   []device.Reason{device.ReasonRemoteUserTerminated},
	}
}

// Validate checks option consistency.
func (o Options) Validate() error {
	var errs []error
	if o.NamePrefix == "" {
		errs = append(errs, errors.New("name prefix must not be empty"))
	}
	if err := device.ValidateUUID(o.ServiceUUID, o.CharacteristicUUID); err != nil {
		errs = append(errs, err)
	}
	if o.ScanTimeout <= 0 {
		errs = append(errs, errors.New("scan timeout must be positive"))
	}
	if o.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if o.RetryBackoff < 0 {
		errs = append(errs, errors.New("retry backoff must not be negative"))
	}
	return errors.Join(errs...)
}

func (o Options) retryable(r device.Reason) bool {
	for _, candidate := range o.RetryableReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
