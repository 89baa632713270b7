package notify

import (
	"context"
	"time"

	"github.com/nerrad567/vigil-core/internal/audit"
	"github.com/nerrad567/vigil-core/internal/operator"
)

// ChatSender delivers a plain text message to an operator's chat.
// Satisfied by the chat transport.
type ChatSender interface {
	SendText(operatorID, text string) error
}

// Deduper decides whether an outbound message should be suppressed.
// Satisfied by *guard.Guard.
type Deduper interface {
	ShouldSend(recipient, text string) bool
}

// Broadcaster relays events to the ops WebSocket feed.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// AlarmMailer emails alarm alerts. Satisfied by *Mailer.
type AlarmMailer interface {
	SendAlarm(ctx context.Context, deviceName string, at time.Time) error
}

// OperatorDirectory resolves notification audiences.
type OperatorDirectory interface {
	List(ctx context.Context) ([]operator.Operator, error)
	ListForDevice(ctx context.Context, deviceID string) ([]operator.Operator, error)
}

// Logger is the minimal logging interface the service needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service routes events to chats, the audit trail, WebSocket clients
// and email.
type Service struct {
	chat      ChatSender
	dedup     Deduper
	auditRepo audit.Repository
	hub       Broadcaster
	mailer    AlarmMailer
	operators OperatorDirectory
	logger    Logger
}

// NewService wires the notification channels. hub and mailer may be nil
// when the corresponding surface is disabled.
func NewService(chat ChatSender, dedup Deduper, auditRepo audit.Repository, hub Broadcaster, mailer AlarmMailer, operators OperatorDirectory) *Service {
	return &Service{
		chat:      chat,
		dedup:     dedup,
		auditRepo: auditRepo,
		hub:       hub,
		mailer:    mailer,
		operators: operators,
		logger:    noopLogger{},
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

// Notify sends text to one operator, subject to de-duplication.
func (s *Service) Notify(operatorID, text string) {
	if !s.dedup.ShouldSend(operatorID, text) {
		s.logger.Debug("duplicate message suppressed", "operator_id", operatorID)
		return
	}
	if err := s.chat.SendText(operatorID, text); err != nil {
		s.logger.Error("chat delivery failed",
			"operator_id", operatorID, "error", err)
	}
}

// NotifyDevice sends text to every active operator linked to a device.
func (s *Service) NotifyDevice(ctx context.Context, deviceID, text string) {
	ops, err := s.operators.ListForDevice(ctx, deviceID)
	if err != nil {
		s.logger.Error("resolving device audience",
			"device_id", deviceID, "error", err)
		return
	}
	for _, op := range ops {
		s.Notify(op.ID, text)
	}
}

// NotifyAdmins sends text to every active admin.
func (s *Service) NotifyAdmins(ctx context.Context, text string) {
	ops, err := s.operators.List(ctx)
	if err != nil {
		s.logger.Error("resolving admin audience", "error", err)
		return
	}
	for _, op := range ops {
		if op.IsAdmin() && op.IsActive {
			s.Notify(op.ID, text)
		}
	}
}

// Record writes an audit event and mirrors it to the WebSocket feed.
func (s *Service) Record(ctx context.Context, kind, actor, deviceID, detail string) {
	event := &audit.Event{
		Kind:     kind,
		Actor:    actor,
		DeviceID: deviceID,
		Detail:   detail,
	}
	if err := s.auditRepo.Create(ctx, event); err != nil {
		s.logger.Error("audit write failed", "kind", kind, "error", err)
	}
	if s.hub != nil {
		s.hub.Broadcast("audit."+kind, event)
	}
}

// AlarmTriggered handles the out-of-band channels for a triggered
// alarm: audit, WebSocket and email. Chat messages to operators are the
// caller's job since their wording depends on the bengala flow.
func (s *Service) AlarmTriggered(ctx context.Context, deviceID, deviceName string) {
	s.Record(ctx, "alarm_triggered", "device", deviceID, deviceName)

	if s.mailer == nil {
		return
	}
	// Mail is slow; keep it off the ingestion path.
	go func() {
		mailCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.mailer.SendAlarm(mailCtx, deviceName, time.Now()); err != nil {
			s.logger.Error("alarm mail failed", "device_id", deviceID, "error", err)
		}
	}()
}
