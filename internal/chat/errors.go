package chat

import "errors"

var (
	// ErrInvalidRecipient indicates an operator ID that is not a chat ID.
	ErrInvalidRecipient = errors.New("chat: invalid recipient")

	// ErrSendFailed indicates the bot API rejected an outbound message.
	ErrSendFailed = errors.New("chat: send failed")
)
