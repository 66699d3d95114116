package frontier

import (
	"errors"
	"fmt"
)

var (
	// ErrContractViolation marks a strategy or caller bug. It is fatal to the
	// event being processed but not to the worker.
	ErrContractViolation = errors.New("strategy contract violation")
	// ErrNotImplemented is returned by strategies that do not implement a mandatory operation.
	ErrNotImplemented = fmt.Errorf("%w: operation not implemented", ErrContractViolation)
	// ErrScoreOutOfRange is returned when a decision carries a score outside [0, 1].
	ErrScoreOutOfRange = errors.New("score out of range [0, 1]")
	// ErrDeliveryFailed means a decision could not be handed to the transport
	// after all retries. The worker must stop: dropped decisions stall the crawl.
	ErrDeliveryFailed = errors.New("score update delivery failed")
)

// MissingFingerprintError is returned when a request without a fingerprint is scheduled.
type MissingFingerprintError struct {
	URL string
}

func (e *MissingFingerprintError) Error() string {
	return fmt.Sprintf("request %q has no fingerprint", e.URL)
}

// Is makes MissingFingerprintError match ErrContractViolation.
func (e *MissingFingerprintError) Is(target error) bool {
	return target == ErrContractViolation
}

// ConfigError reports a strategy that could not be constructed.
type ConfigError struct {
	Strategy string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("strategy config: %v", e.Err)
	}
	return fmt.Sprintf("strategy %q config: %v", e.Strategy, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must stop the worker.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeliveryFailed)
}
