package pending

import "time"

// Kind identifies what an awaiting action is waiting for.
type Kind string

const (
	// KindTriggerConfirm awaits confirmation of a manual alarm trigger.
	KindTriggerConfirm Kind = "trigger_confirm"

	// KindBengalaConfirm awaits confirmation before firing the bengala.
	KindBengalaConfirm Kind = "bengala_confirm"

	// KindBengalaModeChoice awaits a bengala mode selection.
	KindBengalaModeChoice Kind = "bengala_mode_choice"

	// KindDeviceSelection awaits a target-device choice for a command
	// issued by an operator linked to several devices.
	KindDeviceSelection Kind = "device_selection"

	// KindUnlinkConfirm awaits confirmation before unlinking a device.
	KindUnlinkConfirm Kind = "unlink_confirm"

	// KindJoinApproval awaits an admin's decision on a join request.
	KindJoinApproval Kind = "join_approval"
)

// AllKinds lists every action kind.
var AllKinds = []Kind{
	KindTriggerConfirm,
	KindBengalaConfirm,
	KindBengalaModeChoice,
	KindDeviceSelection,
	KindUnlinkConfirm,
	KindJoinApproval,
}

// State is the lifecycle state of an action.
type State string

const (
	StateAwaiting  State = "awaiting"
	StateConfirmed State = "confirmed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// Action is a prompt awaiting an operator's follow-up.
type Action struct {
	OperatorID string
	Kind       Kind
	DeviceIDs  []string
	Payload    map[string]any
	State      State
	CreatedAt  time.Time
	ExpiresAt  *time.Time
}

// DeepCopy returns an independent copy of the action.
func (a *Action) DeepCopy() *Action {
	if a == nil {
		return nil
	}
	cp := *a
	if a.DeviceIDs != nil {
		cp.DeviceIDs = make([]string, len(a.DeviceIDs))
		copy(cp.DeviceIDs, a.DeviceIDs)
	}
	if a.Payload != nil {
		cp.Payload = make(map[string]any, len(a.Payload))
		for k, v := range a.Payload {
			cp.Payload[k] = v
		}
	}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}
