package operator

import "time"

// Role represents an authorisation tier for chat operators.
type Role string

const (
	// RoleUser may command only the devices assigned to them.
	RoleUser Role = "user"

	// RoleAdmin may additionally issue invites, approve joins, unlink
	// operators and manage schedules.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of valid operator roles.
var ValidRoles = []Role{RoleUser, RoleAdmin}

// IsValidRole returns true if the role is a known operator role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// SystemActorID identifies scheduler-initiated actions in audit trails and
// command attribution. It is never a real chat identity and bypasses
// per-operator cooldown and locking.
const SystemActorID = "system"

// Operator is an authorised chat identity permitted to command one or
// more devices. Operators are created on enrollment approval and soft
// disabled rather than deleted.
type Operator struct {
	// ID is the chat identity (Telegram chat ID as a string).
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	IsActive    bool      `json:"is_active"`

	// DeviceIDs are the devices this operator may command, sorted.
	DeviceIDs []string `json:"device_ids"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDevice returns true if the operator is assigned the given device.
func (o *Operator) HasDevice(deviceID string) bool {
	for _, id := range o.DeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// IsAdmin returns true for admin-role operators.
func (o *Operator) IsAdmin() bool {
	return o.Role == RoleAdmin
}

// DeepCopy returns an independent copy of the operator.
func (o *Operator) DeepCopy() *Operator {
	if o == nil {
		return nil
	}
	cp := *o
	if o.DeviceIDs != nil {
		cp.DeviceIDs = make([]string, len(o.DeviceIDs))
		copy(cp.DeviceIDs, o.DeviceIDs)
	}
	return &cp
}
