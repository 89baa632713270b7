// Package notify fans events out to the channels that care about them:
// operator chats, the audit trail, the ops WebSocket feed and, for
// alarms, email.
//
// Chat delivery runs through the outbound de-duplication guard, so an
// event that produces the same text for the same recipient twice in
// quick succession reaches them once. De-duplication is advisory; a
// suppressed message is logged, never queued.
//
// Email is reserved for triggered alarms and is disabled unless SMTP is
// configured. Chat remains the primary channel.
package notify
