package device

import "time"

// BengalaMode controls how a controller's deterrent output reacts to an
// alarm activation.
type BengalaMode string

const (
	// ModeAuto fires the deterrent immediately on alarm activation.
	ModeAuto BengalaMode = "auto"

	// ModeAsk requires operator confirmation before firing.
	ModeAsk BengalaMode = "ask"

	// ModeDisabled never fires the deterrent.
	ModeDisabled BengalaMode = "disabled"
)

// AllBengalaModes returns every valid deterrent mode.
func AllBengalaModes() []BengalaMode {
	return []BengalaMode{ModeAuto, ModeAsk, ModeDisabled}
}

// IsValidBengalaMode returns true if the mode is one of the known modes.
func IsValidBengalaMode(m BengalaMode) bool {
	switch m {
	case ModeAuto, ModeAsk, ModeDisabled:
		return true
	}
	return false
}

// Device represents a physical alarm controller reachable over the device bus.
//
// State fields (Armed, AlarmActive, RSSI, Online, LastSeen) reflect the last
// telemetry contact; they are advisory until refreshed by a correlated reply.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Last-known state
	Armed       bool `json:"armed"`
	AlarmActive bool `json:"alarm_active"`
	RSSI        int  `json:"rssi"`
	Online      bool `json:"online"`

	// Deterrent policy
	BengalaMode BengalaMode `json:"bengala_mode"`

	// BengalaModeChangedAt records the last local mode change, used to
	// ignore stale telemetry during the sync grace window.
	BengalaModeChangedAt *time.Time `json:"bengala_mode_changed_at,omitempty"`

	// LastSeen is the time of the most recent telemetry contact.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns a full copy of the device, safe to mutate without
// affecting cached instances.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.BengalaModeChangedAt != nil {
		t := *d.BengalaModeChangedAt
		cp.BengalaModeChangedAt = &t
	}
	if d.LastSeen != nil {
		t := *d.LastSeen
		cp.LastSeen = &t
	}
	return &cp
}

// Telemetry is one state snapshot reported by a controller.
type Telemetry struct {
	DeviceID    string      `json:"device_id"`
	Armed       bool        `json:"armed"`
	AlarmActive bool        `json:"alarm_active"`
	BengalaMode BengalaMode `json:"bengala_mode"`
	RSSI        int         `json:"rssi"`
	Time        time.Time   `json:"time"`
}

// QueuedCommand is a config-class command held for an offline controller,
// replayed on its next contact.
type QueuedCommand struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats provides registry metrics for monitoring.
type Stats struct {
	CachedDevices int `json:"cached_devices"`
	OnlineDevices int `json:"online_devices"`
	ArmedDevices  int `json:"armed_devices"`
}
