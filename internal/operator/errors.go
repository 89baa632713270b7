package operator

import "errors"

// Domain errors for the operator package.
var (
	// ErrNotFound is returned when an operator ID does not exist.
	ErrNotFound = errors.New("operator: not found")

	// ErrExists is returned when creating an operator that already exists.
	ErrExists = errors.New("operator: already exists")

	// ErrInvalidRole is returned when a role is not user or admin.
	ErrInvalidRole = errors.New("operator: invalid role")

	// ErrNotLinked is returned when unlinking a device the operator does
	// not have.
	ErrNotLinked = errors.New("operator: device not linked")
)
