package schedule

import "errors"

var (
	// ErrNotFound indicates no schedule exists for the device.
	ErrNotFound = errors.New("schedule: not found")

	// ErrInvalidTime indicates a time string that is not HH:MM.
	ErrInvalidTime = errors.New("schedule: invalid time, want HH:MM")

	// ErrInvalidDaysMask indicates a days mask outside the 7-bit range.
	ErrInvalidDaysMask = errors.New("schedule: invalid days mask")
)
