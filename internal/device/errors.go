package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when creating a device with an ID that already exists.
	ErrExists = errors.New("device: already exists")

	// ErrInvalidID is returned when a device ID is empty or malformed.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidMode is returned when a deterrent mode is not auto, ask or disabled.
	ErrInvalidMode = errors.New("device: invalid bengala mode")

	// ErrCommandNotFound is returned when a queued command ID does not exist.
	ErrCommandNotFound = errors.New("device: queued command not found")
)
