// Package dispatch turns operator chat input into guarded command
// executions.
//
// Every inbound message runs the same pipeline: parse, resolve the
// operator, check permission, resolve the target device, pass the
// anti-flood guard, execute, render. Gated commands additionally hold a
// per-(operator, command) execution lock for their duration, so the
// same command cannot overlap with itself and re-invocations inside the
// cooldown window are refused with the remaining time.
//
// Device resolution branches on how many devices the operator is linked
// to: exactly one goes straight to execution, several produce a device
// selection keyboard (including an "all" choice) and park the command
// as a pending action until the operator picks.
//
// Strangers get exactly one verb: presenting an invite code. Everything
// else requires an enrolled, active operator.
package dispatch
