// Package schedule provides time-of-day auto-arm and auto-disarm for
// alarm controllers.
//
// A schedule is one row per device: an optional arm time, an optional
// disarm time, a days-of-week mask and an optional advance warning.
// The scheduler ticks once a minute and fires on an exact HH:MM match,
// guarded so each side fires at most once per calendar day even when a
// tick is delayed or repeated.
//
// Scheduled transitions run under the synthetic system actor, so they
// skip the per-operator cooldown that applies to chat commands.
//
// Edits are written through to the database immediately and flagged
// dirty; the dirty flag clears when the new schedule has been pushed to
// the controller, which happens on the next contact if the device is
// offline at edit time.
package schedule
