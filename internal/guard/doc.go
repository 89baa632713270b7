// Package guard provides anti-flood protection for operator commands.
//
// Physical security commands must not be spammable: a nervous operator
// mashing /on should produce one device exchange, not ten. The guard
// enforces three independent rules:
//
//   - Cooldown: a fixed window between accepted invocations of the same
//     command by the same operator, started when execution starts.
//   - Execution lock: at most one in-flight execution per
//     (operator, command) key; concurrent attempts are rejected
//     immediately, never queued.
//   - Outbound de-duplication: exact duplicate messages to the same
//     recipient within a short trailing window are suppressed. Advisory
//     only; it never suppresses a different message.
//
// Scoped acquisition: callers pair every successful TryAcquire with
// exactly one Release on every exit path, so a handler failure or device
// timeout can never leave a key permanently locked.
package guard
