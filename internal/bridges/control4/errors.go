package control4

import (
	"errors"
	"fmt"
)

// Domain errors for the Control4 bridge package.
var (
	// ErrUnsupportedMode is returned in strict mode when a requested HVAC or
	// fan mode has no vendor equivalent.
	ErrUnsupportedMode = errors.New("control4: unsupported mode")

	// ErrInvalidPercentage is returned for fan percentages outside 0-100.
	ErrInvalidPercentage = errors.New("control4: percentage out of range")

	// ErrInvalidPreset is returned for fan presets outside 0-4.
	ErrInvalidPreset = errors.New("control4: preset out of range")

	// ErrUnknownDevice is returned when a device id is not configured.
	ErrUnknownDevice = errors.New("control4: unknown device")

	// ErrUnknownCommand is returned when a command does not apply to the
	// device type.
	ErrUnknownCommand = errors.New("control4: unknown command")

	// ErrInvalidParameters is returned when command parameters are missing
	// or have the wrong type.
	ErrInvalidParameters = errors.New("control4: invalid parameters")
)

// UpdateFailedError reports a hub command that could not be delivered.
// It names the device and carries the request that was attempted.
type UpdateFailedError struct {
	DeviceID  int
	Name      string
	Operation string
	Params    map[string]any
	Err       error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("control4: error setting %s (%d) %s to %v: %v", e.Name, e.DeviceID, e.Operation, e.Params, e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}
