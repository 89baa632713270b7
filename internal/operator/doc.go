// Package operator manages authorised chat identities and their device
// assignments.
//
// Operators are created by the enrollment flow (invite, join, approve) and
// carry a role (user or admin) plus the set of controllers they may command.
// Operators are never deleted, only soft-disabled, so audit history keeps
// a resolvable actor.
//
// The synthetic SystemActorID attributes scheduler-initiated arm/disarm
// actions; it bypasses per-operator cooldown and locking because no human
// issued the command.
package operator
