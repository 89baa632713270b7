package enroll

import (
	"fmt"
	"time"
)

// Invite is a single-use enrollment code bound to one device.
// Invites never expire on their own; they burn on redemption.
type Invite struct {
	Code      string     `json:"code"`
	DeviceID  string     `json:"device_id"`
	IssuedBy  string     `json:"issued_by"`
	Used      bool       `json:"used"`
	UsedBy    string     `json:"used_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// DeepLink returns the chat deep link that opens the bot with the
// invite code pre-filled.
func (i *Invite) DeepLink(botUsername string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, i.Code)
}

// JoinRequest is a redeemed invite awaiting admin approval.
// Identity is the requester's chat identity, which becomes the operator
// ID on approval.
type JoinRequest struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	InviteCode  string    `json:"invite_code"`
	DeviceID    string    `json:"device_id"`
	CreatedAt   time.Time `json:"created_at"`
}
