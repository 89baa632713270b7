package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vigil-core/internal/audit"
	"github.com/nerrad567/vigil-core/internal/guard"
	"github.com/nerrad567/vigil-core/internal/operator"
)

// mockChat records delivered messages.
type mockChat struct {
	mu   sync.Mutex
	sent []string // "operatorID: text"
}

func (m *mockChat) SendText(operatorID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, operatorID+": "+text)
	return nil
}

func (m *mockChat) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockAudit records created events.
type mockAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *mockAudit) Create(_ context.Context, event *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAudit) List(_ context.Context, _ audit.Filter) (*audit.ListResult, error) {
	return &audit.ListResult{}, nil
}

// mockHub records broadcast channels.
type mockHub struct {
	mu       sync.Mutex
	channels []string
}

func (m *mockHub) Broadcast(channel string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channel)
}

// mockMailer records alarm mails.
type mockMailer struct {
	mu    sync.Mutex
	mails []string
}

func (m *mockMailer) SendAlarm(_ context.Context, deviceName string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mails = append(m.mails, deviceName)
	return nil
}

func (m *mockMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mails)
}

// mockOperators serves a fixed roster.
type mockOperators struct {
	roster []operator.Operator
}

func (m *mockOperators) List(_ context.Context) ([]operator.Operator, error) {
	return m.roster, nil
}

func (m *mockOperators) ListForDevice(_ context.Context, deviceID string) ([]operator.Operator, error) {
	var out []operator.Operator
	for _, op := range m.roster {
		if op.IsActive && op.HasDevice(deviceID) {
			out = append(out, op)
		}
	}
	return out, nil
}

func newTestService() (*Service, *mockChat, *mockAudit, *mockHub, *mockMailer) {
	chat := &mockChat{}
	auditRepo := &mockAudit{}
	hub := &mockHub{}
	mailer := &mockMailer{}
	ops := &mockOperators{roster: []operator.Operator{
		{ID: "1001", Role: operator.RoleUser, IsActive: true, DeviceIDs: []string{"alarm-01"}},
		{ID: "1002", Role: operator.RoleUser, IsActive: true, DeviceIDs: []string{"alarm-02"}},
		{ID: "9000", Role: operator.RoleAdmin, IsActive: true},
		{ID: "9001", Role: operator.RoleAdmin, IsActive: false},
	}}

	g := guard.New(8*time.Second, 15*time.Second, 32)
	svc := NewService(chat, g, auditRepo, hub, mailer, ops)
	return svc, chat, auditRepo, hub, mailer
}

// ─── Chat Delivery ───

func TestNotify_Delivers(t *testing.T) {
	svc, chat, _, _, _ := newTestService()

	svc.Notify("1001", "ARMED ✔")
	if chat.count() != 1 {
		t.Fatalf("sent = %d, want 1", chat.count())
	}
	if chat.sent[0] != "1001: ARMED ✔" {
		t.Errorf("sent = %q", chat.sent[0])
	}
}

func TestNotify_DeduplicatesExactText(t *testing.T) {
	svc, chat, _, _, _ := newTestService()

	svc.Notify("1001", "ARMED ✔")
	svc.Notify("1001", "ARMED ✔") // suppressed
	svc.Notify("1001", "DISARMED")
	svc.Notify("1002", "ARMED ✔") // different recipient, allowed

	if chat.count() != 3 {
		t.Errorf("sent = %d, want 3 (one duplicate suppressed)", chat.count())
	}
}

func TestNotifyDevice_LinkedOperatorsOnly(t *testing.T) {
	svc, chat, _, _, _ := newTestService()

	svc.NotifyDevice(context.Background(), "alarm-01", "telemetry gap")

	if chat.count() != 1 || !strings.HasPrefix(chat.sent[0], "1001:") {
		t.Errorf("sent = %v, want just operator 1001", chat.sent)
	}
}

func TestNotifyAdmins_ActiveAdminsOnly(t *testing.T) {
	svc, chat, _, _, _ := newTestService()

	svc.NotifyAdmins(context.Background(), "join request from Nina")

	if chat.count() != 1 || !strings.HasPrefix(chat.sent[0], "9000:") {
		t.Errorf("sent = %v, want just the active admin", chat.sent)
	}
}

// ─── Audit / Broadcast / Mail ───

func TestRecord_AuditAndBroadcast(t *testing.T) {
	svc, _, auditRepo, hub, _ := newTestService()

	svc.Record(context.Background(), "armed", "1001", "alarm-01", "")

	if len(auditRepo.events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(auditRepo.events))
	}
	if auditRepo.events[0].Actor != "1001" || auditRepo.events[0].Kind != "armed" {
		t.Errorf("event = %+v", auditRepo.events[0])
	}
	if len(hub.channels) != 1 || hub.channels[0] != "audit.armed" {
		t.Errorf("broadcasts = %v, want [audit.armed]", hub.channels)
	}
}

func TestAlarmTriggered_MailsAsync(t *testing.T) {
	svc, _, auditRepo, _, mailer := newTestService()

	svc.AlarmTriggered(context.Background(), "alarm-01", "Gate")

	if len(auditRepo.events) != 1 || auditRepo.events[0].Kind != "alarm_triggered" {
		t.Fatalf("audit events = %+v", auditRepo.events)
	}

	deadline := time.Now().Add(time.Second)
	for mailer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mailer.count() != 1 {
		t.Error("alarm mail should be sent")
	}
}

func TestAlarmTriggered_NoMailerConfigured(t *testing.T) {
	svc, _, auditRepo, _, _ := newTestService()
	svc.mailer = nil

	svc.AlarmTriggered(context.Background(), "alarm-01", "Gate")
	if len(auditRepo.events) != 1 {
		t.Error("audit should still record without a mailer")
	}
}
