// Package pending tracks interactive actions awaiting an operator's
// follow-up: confirmation prompts, mode choices, device selections and
// join approvals.
//
// Each operator holds at most one awaiting action per kind. Creating a
// new action of a kind the operator already has awaiting silently
// cancels the prior one, so a stale prompt can never be confirmed by
// accident.
//
// Resolution is first-writer-wins: an awaiting action transitions
// exactly once, to confirmed, cancelled or expired. Whichever of
// Confirm, Cancel or the expiry sweep reaches it first owns the
// transition; later attempts see ErrNotPending.
//
// The store is purely in-memory. Pending actions are conversational
// state and do not survive a restart, which is the safe failure mode
// for anything gating a siren.
package pending
