// Package chat is the Telegram transport for operator conversations.
//
// It wraps the bot API behind a small surface: long-polled inbound
// updates translated to transport-neutral Message and Callback values,
// and outbound text, inline keyboards and photos addressed by operator
// ID. The operator ID is the chat ID in string form, which keeps every
// other package free of Telegram types.
//
// Inline keyboards carry their choice in the callback data, so a tap
// arrives as a Callback with the original data string. Callers should
// acknowledge callbacks promptly or the client's UI keeps spinning.
package chat
