package pending

import "errors"

var (
	// ErrNotPending indicates no awaiting action matched the request.
	ErrNotPending = errors.New("pending: no awaiting action")

	// ErrInvalidKind indicates an unknown action kind.
	ErrInvalidKind = errors.New("pending: invalid kind")
)
