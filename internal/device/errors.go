package device

import "errors"

// Domain errors for state history.
var (
	// ErrDeviceIDRequired is returned when a device id is empty.
	ErrDeviceIDRequired = errors.New("device: device id is required")

	// ErrInvalidRetention is returned when a prune age is not positive.
	ErrInvalidRetention = errors.New("device: retention must be positive")
)
