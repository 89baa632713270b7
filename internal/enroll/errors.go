package enroll

import "errors"

var (
	// ErrInvalidInvite indicates an unknown invite code.
	ErrInvalidInvite = errors.New("enroll: invalid invite code")

	// ErrInviteUsed indicates an invite that has already been redeemed.
	ErrInviteUsed = errors.New("enroll: invite already used")

	// ErrNoJoinRequest indicates no join request exists for the identity.
	ErrNoJoinRequest = errors.New("enroll: no join request")

	// ErrRequestExists indicates the identity already has a join request
	// awaiting approval.
	ErrRequestExists = errors.New("enroll: join request already pending")
)
