package bengala

import "errors"

var (
	// ErrNothingToFire indicates a confirm with no awaiting prompt and no
	// alarming devices to act on.
	ErrNothingToFire = errors.New("bengala: nothing to fire")

	// ErrDisabled indicates the device's bengala mode forbids firing.
	ErrDisabled = errors.New("bengala: mode disabled")
)
