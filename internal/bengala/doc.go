// Package bengala coordinates the signal-flare response to an active
// alarm.
//
// Each device carries one of three bengala modes. In auto mode the flare
// fires as soon as the alarm trips. In ask mode every operator linked to
// the device is prompted and the flare fires only on explicit
// confirmation, with periodic reminders while the alarm stays active.
// In disabled mode nothing happens.
//
// A confirmation left unanswered expires after a fixed window and is
// reported back to the operator. Confirming with nothing awaiting is
// treated as a direct request: the flare fires on every alarming device
// the operator is linked to.
//
// Mode changes are written through to the store immediately and pushed
// to the controller. For a short grace window after a change, telemetry
// reporting the old mode is ignored so the controller cannot revert the
// operator's choice before it has caught up.
package bengala
