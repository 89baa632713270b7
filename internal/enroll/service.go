package enroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/nerrad567/vigil-core/internal/operator"
)

// qrSize is the pixel size of generated invite QR images.
const qrSize = 256

// OperatorStore is the slice of the operator repository enrollment needs.
type OperatorStore interface {
	GetByID(ctx context.Context, id string) (*operator.Operator, error)
	Create(ctx context.Context, op *operator.Operator) error
	LinkDevice(ctx context.Context, operatorID, deviceID string) error
}

// Logger is the minimal logging interface the service needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Service implements the enrollment flow.
type Service struct {
	repo        Repository
	operators   OperatorStore
	botUsername string
	logger      Logger
}

// NewService creates an enrollment service. botUsername feeds the
// invite deep links.
func NewService(repo Repository, operators OperatorStore, botUsername string) *Service {
	return &Service{
		repo:        repo,
		operators:   operators,
		botUsername: botUsername,
		logger:      noopLogger{},
	}
}

// SetLogger attaches a logger. Passing nil restores the no-op logger.
func (s *Service) SetLogger(l Logger) {
	if l == nil {
		s.logger = noopLogger{}
		return
	}
	s.logger = l
}

// IssueInvite mints a single-use invite for the device.
func (s *Service) IssueInvite(ctx context.Context, deviceID, issuedBy string) (*Invite, error) {
	inv := &Invite{
		Code:     uuid.NewString(),
		DeviceID: deviceID,
		IssuedBy: issuedBy,
	}
	if err := s.repo.CreateInvite(ctx, inv); err != nil {
		return nil, err
	}
	s.logger.Info("invite issued", "device_id", deviceID, "issued_by", issuedBy)
	return inv, nil
}

// DeepLink returns the chat deep link for an invite code.
func (s *Service) DeepLink(code string) string {
	return (&Invite{Code: code}).DeepLink(s.botUsername)
}

// QRCode renders an invite's deep link as a PNG image.
func (s *Service) QRCode(code string) ([]byte, error) {
	png, err := qrcode.Encode(s.DeepLink(code), qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encoding invite QR: %w", err)
	}
	return png, nil
}

// Redeem validates an invite code presented by a stranger and records a
// join request for admin review. The invite is not burned yet; that
// happens on approval.
//
// Returns ErrInvalidInvite for unknown codes, ErrInviteUsed for spent
// ones, and ErrRequestExists when the identity already has a request
// awaiting review.
func (s *Service) Redeem(ctx context.Context, identity, displayName, code string) (*JoinRequest, error) {
	inv, err := s.repo.GetInvite(ctx, code)
	if err != nil {
		return nil, err
	}
	if inv.Used {
		return nil, ErrInviteUsed
	}

	req := &JoinRequest{
		Identity:    identity,
		DisplayName: displayName,
		InviteCode:  code,
		DeviceID:    inv.DeviceID,
	}
	if err := s.repo.CreateJoinRequest(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info("join request recorded",
		"identity", identity, "device_id", inv.DeviceID)
	return req, nil
}

// Approve turns an identity's join request into an operator. A brand
// new identity becomes a user-role operator; an existing operator just
// gains the device link. The invite burns on success.
func (s *Service) Approve(ctx context.Context, identity string) (*JoinRequest, error) {
	req, err := s.repo.GetJoinRequest(ctx, identity)
	if err != nil {
		return nil, err
	}

	_, err = s.operators.GetByID(ctx, identity)
	switch {
	case errors.Is(err, operator.ErrNotFound):
		op := &operator.Operator{
			ID:          identity,
			DisplayName: req.DisplayName,
			Role:        operator.RoleUser,
			IsActive:    true,
			DeviceIDs:   []string{req.DeviceID},
		}
		if err := s.operators.Create(ctx, op); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := s.operators.LinkDevice(ctx, identity, req.DeviceID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.BurnInvite(ctx, req.InviteCode, identity); err != nil {
		// The operator exists either way; a racing burn just means the
		// code is already spent.
		if !errors.Is(err, ErrInviteUsed) {
			return nil, err
		}
		s.logger.Warn("invite already burned at approval",
			"code", req.InviteCode, "identity", identity)
	}
	if err := s.repo.DeleteJoinRequest(ctx, identity); err != nil {
		return nil, err
	}

	s.logger.Info("join request approved",
		"identity", identity, "device_id", req.DeviceID)
	return req, nil
}

// Deny discards an identity's join request, leaving the invite valid.
func (s *Service) Deny(ctx context.Context, identity string) (*JoinRequest, error) {
	req, err := s.repo.GetJoinRequest(ctx, identity)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteJoinRequest(ctx, identity); err != nil {
		return nil, err
	}
	s.logger.Info("join request denied", "identity", identity)
	return req, nil
}
