package correlation

import "errors"

var (
	// ErrUnresponsive indicates the device did not reply within the wait window.
	ErrUnresponsive = errors.New("correlation: device unresponsive")

	// ErrPublishFailed indicates the command could not be handed to the broker.
	ErrPublishFailed = errors.New("correlation: publish failed")

	// ErrMalformedReply indicates a reply payload that could not be decoded.
	ErrMalformedReply = errors.New("correlation: malformed reply")

	// ErrNoDevices indicates Send was called with an empty device batch.
	ErrNoDevices = errors.New("correlation: no devices")
)
