package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vigil-core/internal/bengala"
	"github.com/nerrad567/vigil-core/internal/chat"
	"github.com/nerrad567/vigil-core/internal/correlation"
	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/enroll"
	"github.com/nerrad567/vigil-core/internal/guard"
	"github.com/nerrad567/vigil-core/internal/operator"
	"github.com/nerrad567/vigil-core/internal/pending"
	"github.com/nerrad567/vigil-core/internal/schedule"
)

// ─── Mocks ───

type mockDevices struct {
	mu      sync.Mutex
	devices map[string]*device.Device
	armed   map[string]bool
}

func newMockDevices(devs ...*device.Device) *mockDevices {
	m := &mockDevices{
		devices: make(map[string]*device.Device),
		armed:   make(map[string]bool),
	}
	for _, d := range devs {
		m.devices[d.ID] = d
	}
	return m
}

func (m *mockDevices) Get(_ context.Context, id string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, device.ErrNotFound
	}
	return d.DeepCopy(), nil
}

func (m *mockDevices) AlarmingDevices(ids []string) []device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []device.Device
	for _, id := range ids {
		if d, ok := m.devices[id]; ok && d.AlarmActive {
			out = append(out, *d.DeepCopy())
		}
	}
	return out
}

func (m *mockDevices) SetArmed(_ context.Context, id string, armed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed[id] = armed
	return nil
}

type mockOperators struct {
	mu       sync.Mutex
	ops      map[string]*operator.Operator
	unlinked []string
}

func newMockOperators(ops ...*operator.Operator) *mockOperators {
	m := &mockOperators{ops: make(map[string]*operator.Operator)}
	for _, o := range ops {
		m.ops[o.ID] = o
	}
	return m
}

func (m *mockOperators) GetByID(_ context.Context, id string) (*operator.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.ops[id]
	if !ok {
		return nil, operator.ErrNotFound
	}
	return o.DeepCopy(), nil
}

func (m *mockOperators) List(_ context.Context) ([]operator.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []operator.Operator
	for _, o := range m.ops {
		out = append(out, *o.DeepCopy())
	}
	return out, nil
}

func (m *mockOperators) UnlinkDevice(_ context.Context, operatorID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlinked = append(m.unlinked, operatorID+"/"+deviceID)
	return nil
}

type mockCommander struct {
	mu    sync.Mutex
	calls []string // "kind:device"
	fail  map[string]bool
}

func (m *mockCommander) Send(_ context.Context, deviceIDs []string, kind string, _ map[string]any, _ time.Duration) ([]correlation.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]correlation.Result, len(deviceIDs))
	for i, id := range deviceIDs {
		m.calls = append(m.calls, kind+":"+id)
		if m.fail[id] {
			results[i] = correlation.Result{DeviceID: id, Err: correlation.ErrUnresponsive}
			continue
		}
		results[i] = correlation.Result{
			DeviceID: id,
			Reply:    &correlation.Reply{Status: "ok"},
		}
	}
	return results, nil
}

func (m *mockCommander) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockBengala struct {
	mu        sync.Mutex
	fired     []string
	modes     map[string]device.BengalaMode
	confirmOK bool
}

func (m *mockBengala) Confirm(_ context.Context, _ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.confirmOK {
		return nil, bengala.ErrNothingToFire
	}
	m.fired = append(m.fired, "alarm-01")
	return []string{"alarm-01"}, nil
}

func (m *mockBengala) SetMode(_ context.Context, deviceID string, mode device.BengalaMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modes == nil {
		m.modes = make(map[string]device.BengalaMode)
	}
	m.modes[deviceID] = mode
	return nil
}

type mockEnroll struct {
	mu       sync.Mutex
	redeemed []string
	approved []string
	denied   []string
	request  *enroll.JoinRequest
}

func (m *mockEnroll) IssueInvite(_ context.Context, deviceID, issuedBy string) (*enroll.Invite, error) {
	return &enroll.Invite{Code: "abc123", DeviceID: deviceID, IssuedBy: issuedBy}, nil
}

func (m *mockEnroll) DeepLink(code string) string { return "https://t.me/vigilbot?start=" + code }

func (m *mockEnroll) QRCode(string) ([]byte, error) { return []byte{0x89, 'P', 'N', 'G'}, nil }

func (m *mockEnroll) Redeem(_ context.Context, identity, displayName, code string) (*enroll.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code != "abc123" {
		return nil, enroll.ErrInvalidInvite
	}
	m.redeemed = append(m.redeemed, identity)
	return &enroll.JoinRequest{Identity: identity, DisplayName: displayName, DeviceID: "alarm-01"}, nil
}

func (m *mockEnroll) Approve(_ context.Context, identity string) (*enroll.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.request == nil || m.request.Identity != identity {
		return nil, enroll.ErrNoJoinRequest
	}
	m.approved = append(m.approved, identity)
	return m.request, nil
}

func (m *mockEnroll) Deny(_ context.Context, identity string) (*enroll.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.request == nil || m.request.Identity != identity {
		return nil, enroll.ErrNoJoinRequest
	}
	m.denied = append(m.denied, identity)
	return m.request, nil
}

type mockSchedules struct {
	mu      sync.Mutex
	applied []*schedule.Schedule
	current *schedule.Schedule
}

func (m *mockSchedules) Apply(_ context.Context, s *schedule.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, s.DeepCopy())
	m.current = s.DeepCopy()
	return nil
}

func (m *mockSchedules) Get(_ context.Context, _ string) (*schedule.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, schedule.ErrNotFound
	}
	return m.current.DeepCopy(), nil
}

type mockNotifier struct {
	mu       sync.Mutex
	messages map[string][]string // operatorID -> texts
	records  []string            // "kind:device"
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{messages: make(map[string][]string)}
}

func (m *mockNotifier) Notify(operatorID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[operatorID] = append(m.messages[operatorID], text)
}

func (m *mockNotifier) NotifyAdmins(_ context.Context, text string) {
	m.Notify("admins", text)
}

func (m *mockNotifier) Record(_ context.Context, kind, _, deviceID, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, kind+":"+deviceID)
}

func (m *mockNotifier) lastTo(operatorID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[operatorID]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type mockTransport struct {
	mu        sync.Mutex
	keyboards []string // text of each keyboard sent
	rows      [][][]chat.Button
	photos    []string // captions
}

func (m *mockTransport) SendKeyboard(_, text string, rows ...[]chat.Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyboards = append(m.keyboards, text)
	m.rows = append(m.rows, rows)
	return nil
}

func (m *mockTransport) SendPhoto(_, caption string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, caption)
	return nil
}

// ─── Fixture ───

type fixture struct {
	d         *Dispatcher
	devices   *mockDevices
	operators *mockOperators
	commander *mockCommander
	bengala   *mockBengala
	enroll    *mockEnroll
	schedules *mockSchedules
	pendings  *pending.Store
	gate      *guard.Guard
	notifier  *mockNotifier
	transport *mockTransport
}

func newFixture(devs []*device.Device, ops []*operator.Operator) *fixture {
	f := &fixture{
		devices:   newMockDevices(devs...),
		operators: newMockOperators(ops...),
		commander: &mockCommander{fail: make(map[string]bool)},
		bengala:   &mockBengala{},
		enroll:    &mockEnroll{},
		schedules: &mockSchedules{},
		pendings:  pending.NewStore(),
		gate:      guard.New(8*time.Second, 15*time.Second, 64),
		notifier:  newMockNotifier(),
		transport: &mockTransport{},
	}
	f.d = New(f.devices, f.operators, f.commander, f.bengala, f.enroll,
		f.schedules, f.pendings, f.gate, f.notifier, f.transport, Config{
			Wait:         time.Second,
			ExtendedWait: 2 * time.Second,
			ConfirmTTL:   time.Minute,
			SelectionTTL: time.Minute,
		})
	return f
}

func testOperator(id string, role operator.Role, deviceIDs ...string) *operator.Operator {
	return &operator.Operator{
		ID:          id,
		DisplayName: "Op " + id,
		Role:        role,
		IsActive:    true,
		DeviceIDs:   deviceIDs,
	}
}

func testDevice(id, name string) *device.Device {
	return &device.Device{ID: id, Name: name, Online: true, BengalaMode: device.ModeAsk}
}

func msg(operatorID, text string) chat.Message {
	return chat.Message{OperatorID: operatorID, DisplayName: "Op " + operatorID, Text: text}
}

// ─── Arm / disarm ───

func TestHandleMessage_ArmSingleDevice(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/on"))

	if got := f.commander.sent(); len(got) != 1 || got[0] != "arm:alarm-01" {
		t.Fatalf("commander calls = %v, want [arm:alarm-01]", got)
	}
	if !f.devices.armed["alarm-01"] {
		t.Error("device not recorded as armed")
	}
	if last := f.notifier.lastTo("1001"); !strings.Contains(last, "Gate armed") {
		t.Errorf("reply = %q, want mention of Gate armed", last)
	}
}

func TestHandleMessage_DisarmReportsUnresponsive(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)
	f.commander.fail["alarm-01"] = true

	f.d.HandleMessage(context.Background(), msg("1001", "/off"))

	if last := f.notifier.lastTo("1001"); !strings.Contains(last, "did not answer") {
		t.Errorf("reply = %q, want unresponsive notice", last)
	}
	if f.devices.armed["alarm-01"] {
		t.Error("failed disarm must not touch recorded state")
	}
}

func TestHandleMessage_CooldownBlocksRepeat(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/on"))
	f.d.HandleMessage(context.Background(), msg("1001", "/on"))

	if got := f.commander.sent(); len(got) != 1 {
		t.Fatalf("commander calls = %d, want 1 (second blocked by cooldown)", len(got))
	}
	if last := f.notifier.lastTo("1001"); !strings.Contains(last, "Easy") {
		t.Errorf("reply = %q, want cooldown notice", last)
	}
}

func TestHandleMessage_StatusCooldownBlocksRepeat(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/status"))
	f.d.HandleMessage(context.Background(), msg("1001", "/status"))

	f.notifier.mu.Lock()
	msgs := append([]string(nil), f.notifier.messages["1001"]...)
	f.notifier.mu.Unlock()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want status then cooldown notice", len(msgs))
	}
	if !strings.Contains(msgs[0], "Gate") {
		t.Errorf("first reply = %q, want status render", msgs[0])
	}
	if !strings.Contains(msgs[1], "Easy") {
		t.Errorf("second reply = %q, want cooldown notice", msgs[1])
	}
}

// ─── Device selection ───

func TestHandleMessage_MultiDeviceParksSelection(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate"), testDevice("alarm-02", "Barn")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01", "alarm-02")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/on"))

	if got := f.commander.sent(); len(got) != 0 {
		t.Fatalf("commander calls = %v, want none before selection", got)
	}
	f.transport.mu.Lock()
	keyboards := len(f.transport.keyboards)
	f.transport.mu.Unlock()
	if keyboards != 1 {
		t.Fatalf("keyboards sent = %d, want 1", keyboards)
	}
	if _, err := f.pendings.Get("1001", pending.KindDeviceSelection); err != nil {
		t.Fatalf("expected parked selection, got %v", err)
	}
}

func TestHandleCallback_SelectionResumesCommand(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate"), testDevice("alarm-02", "Barn")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01", "alarm-02")},
	)
	ctx := context.Background()

	f.d.HandleMessage(ctx, msg("1001", "/on"))
	f.d.HandleCallback(ctx, chat.Callback{OperatorID: "1001", Data: "sel:alarm-02"})

	if got := f.commander.sent(); len(got) != 1 || got[0] != "arm:alarm-02" {
		t.Fatalf("commander calls = %v, want [arm:alarm-02]", got)
	}
	if _, err := f.pendings.Get("1001", pending.KindDeviceSelection); !errors.Is(err, pending.ErrNotPending) {
		t.Errorf("selection should be consumed, got %v", err)
	}
}

func TestHandleCallback_SelectionAllTargetsEveryDevice(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate"), testDevice("alarm-02", "Barn")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01", "alarm-02")},
	)
	ctx := context.Background()

	f.d.HandleMessage(ctx, msg("1001", "/on"))
	f.d.HandleCallback(ctx, chat.Callback{OperatorID: "1001", Data: "sel:all"})

	if got := f.commander.sent(); len(got) != 2 {
		t.Fatalf("commander calls = %v, want both devices armed", got)
	}
}

func TestHandleCallback_SelectionOutsideOfferedSetIgnored(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate"), testDevice("alarm-02", "Barn")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01", "alarm-02")},
	)
	ctx := context.Background()

	f.d.HandleMessage(ctx, msg("1001", "/on"))
	f.d.HandleCallback(ctx, chat.Callback{OperatorID: "1001", Data: "sel:alarm-99"})

	if got := f.commander.sent(); len(got) != 0 {
		t.Fatalf("commander calls = %v, want none for an unoffered device", got)
	}
}

func TestHandleMessage_ExplicitTargetByNamePrefix(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate"), testDevice("alarm-02", "Barn")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01", "alarm-02")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/on barn"))

	if got := f.commander.sent(); len(got) != 1 || got[0] != "arm:alarm-02" {
		t.Fatalf("commander calls = %v, want [arm:alarm-02]", got)
	}
}

// ─── Trigger / confirm / cancel ───

func TestHandleMessage_TriggerAsksFirst(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)
	ctx := context.Background()

	f.d.HandleMessage(ctx, msg("1001", "/trigger"))

	if got := f.commander.sent(); len(got) != 0 {
		t.Fatalf("commander calls = %v, want none before /confirm", got)
	}
	if _, err := f.pendings.Get("1001", pending.KindTriggerConfirm); err != nil {
		t.Fatalf("expected trigger confirmation pending, got %v", err)
	}

	f.d.HandleMessage(ctx, msg("1001", "/confirm"))

	if got := f.commander.sent(); len(got) != 1 || got[0] != "trigger_alarm:alarm-01" {
		t.Fatalf("commander calls = %v, want [trigger_alarm:alarm-01]", got)
	}
}

func TestHandleMessage_CancelDismissesPending(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)
	ctx := context.Background()

	f.d.HandleMessage(ctx, msg("1001", "/trigger"))
	f.d.HandleMessage(ctx, msg("1001", "/cancel"))

	if _, err := f.pendings.Get("1001", pending.KindTriggerConfirm); !errors.Is(err, pending.ErrNotPending) {
		t.Errorf("pending after cancel = %v, want ErrNotPending", err)
	}

	f.d.HandleMessage(ctx, msg("1001", "/confirm"))
	if got := f.commander.sent(); len(got) != 0 {
		t.Fatalf("commander calls = %v, want none after cancel", got)
	}
}

func TestHandleMessage_ConfirmWithNothingPendingGoesToBengala(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/confirm"))

	if last := f.notifier.lastTo("1001"); !strings.Contains(last, "Nothing pending") {
		t.Errorf("reply = %q, want nothing-pending notice", last)
	}
}

// ─── Mode ───

func TestHandleMessage_ModeDirectArgument(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/mode auto"))

	if got := f.bengala.modes["alarm-01"]; got != device.ModeAuto {
		t.Errorf("mode = %q, want auto", got)
	}
}

func TestHandleCallback_ModeChoice(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)
	ctx := context.Background()

	f.d.HandleMessage(ctx, msg("1001", "/mode"))
	f.d.HandleCallback(ctx, chat.Callback{OperatorID: "1001", Data: "mode:disabled"})

	if got := f.bengala.modes["alarm-01"]; got != device.ModeDisabled {
		t.Errorf("mode = %q, want disabled", got)
	}
}

// ─── Schedule ───

func TestHandleMessage_ScheduleSetAndShow(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)
	ctx := context.Background()

	f.d.HandleMessage(ctx, msg("1001", "/schedule 22:30 07:00 15"))

	f.schedules.mu.Lock()
	applied := len(f.schedules.applied)
	f.schedules.mu.Unlock()
	if applied != 1 {
		t.Fatalf("schedules applied = %d, want 1", applied)
	}
	if last := f.notifier.lastTo("1001"); !strings.Contains(last, "22:30") {
		t.Errorf("reply = %q, want the arm time echoed", last)
	}
}

func TestHandleMessage_ScheduleRejectsBadTime(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/schedule 25:99 07:00"))

	f.schedules.mu.Lock()
	applied := len(f.schedules.applied)
	f.schedules.mu.Unlock()
	if applied != 0 {
		t.Fatalf("schedules applied = %d, want 0", applied)
	}
	if last := f.notifier.lastTo("1001"); !strings.Contains(last, "HH:MM") {
		t.Errorf("reply = %q, want format hint", last)
	}
}

// ─── Unlink ───

func TestHandleMessage_UnlinkConfirmFlow(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)
	ctx := context.Background()

	f.d.HandleMessage(ctx, msg("1001", "/unlink"))
	if len(f.operators.unlinked) != 0 {
		t.Fatal("unlink must wait for /confirm")
	}

	f.d.HandleMessage(ctx, msg("1001", "/confirm"))
	if len(f.operators.unlinked) != 1 || f.operators.unlinked[0] != "1001/alarm-01" {
		t.Fatalf("unlinked = %v, want [1001/alarm-01]", f.operators.unlinked)
	}
}

// ─── Enrollment ───

func TestHandleMessage_StrangerRedeemsInvite(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("9000", operator.RoleAdmin, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("5555", "/start abc123"))

	if len(f.enroll.redeemed) != 1 || f.enroll.redeemed[0] != "5555" {
		t.Fatalf("redeemed = %v, want [5555]", f.enroll.redeemed)
	}
	if last := f.notifier.lastTo("5555"); !strings.Contains(last, "Request received") {
		t.Errorf("reply = %q, want request-received notice", last)
	}
	// The admin gets an approval keyboard.
	f.transport.mu.Lock()
	keyboards := len(f.transport.keyboards)
	f.transport.mu.Unlock()
	if keyboards != 1 {
		t.Fatalf("keyboards = %d, want 1 admin approval prompt", keyboards)
	}
	if _, err := f.pendings.Get("9000", pending.KindJoinApproval); err != nil {
		t.Fatalf("expected admin approval pending, got %v", err)
	}
}

func TestHandleMessage_StrangerBadCode(t *testing.T) {
	f := newFixture(nil, nil)

	f.d.HandleMessage(context.Background(), msg("5555", "/join wrong"))

	if last := f.notifier.lastTo("5555"); !strings.Contains(last, "isn't valid") {
		t.Errorf("reply = %q, want invalid-code notice", last)
	}
}

func TestHandleMessage_StrangerOtherCommandsRefused(t *testing.T) {
	f := newFixture(nil, nil)

	f.d.HandleMessage(context.Background(), msg("5555", "/on"))

	if last := f.notifier.lastTo("5555"); !strings.Contains(last, "invite-only") {
		t.Errorf("reply = %q, want invite-only notice", last)
	}
}

func TestHandleCallback_ApproveJoinRequest(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("9000", operator.RoleAdmin, "alarm-01")},
	)
	ctx := context.Background()
	f.enroll.request = &enroll.JoinRequest{
		Identity: "5555", DisplayName: "Newcomer", DeviceID: "alarm-01",
	}

	f.d.HandleMessage(ctx, msg("5555", "/start abc123"))
	f.d.HandleCallback(ctx, chat.Callback{OperatorID: "9000", Data: "approve:5555"})

	if len(f.enroll.approved) != 1 || f.enroll.approved[0] != "5555" {
		t.Fatalf("approved = %v, want [5555]", f.enroll.approved)
	}
	if last := f.notifier.lastTo("5555"); !strings.Contains(last, "You're in") {
		t.Errorf("requester reply = %q, want welcome", last)
	}
}

func TestHandleCallback_DenyJoinRequest(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("9000", operator.RoleAdmin, "alarm-01")},
	)
	ctx := context.Background()
	f.enroll.request = &enroll.JoinRequest{
		Identity: "5555", DisplayName: "Newcomer", DeviceID: "alarm-01",
	}

	f.d.HandleMessage(ctx, msg("5555", "/start abc123"))
	f.d.HandleCallback(ctx, chat.Callback{OperatorID: "9000", Data: "deny:5555"})

	if len(f.enroll.denied) != 1 {
		t.Fatalf("denied = %v, want one entry", f.enroll.denied)
	}
	if last := f.notifier.lastTo("5555"); !strings.Contains(last, "declined") {
		t.Errorf("requester reply = %q, want decline notice", last)
	}
}

func TestHandleMessage_InviteSendsQR(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("9000", operator.RoleAdmin, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("9000", "/invite"))

	f.transport.mu.Lock()
	photos := append([]string(nil), f.transport.photos...)
	f.transport.mu.Unlock()
	if len(photos) != 1 {
		t.Fatalf("photos = %d, want 1", len(photos))
	}
	if !strings.Contains(photos[0], "start=abc123") {
		t.Errorf("caption = %q, want the deep link", photos[0])
	}
}

// ─── Permissions and parsing ───

func TestHandleMessage_AdminOnlyRefused(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/invite"))

	if last := f.notifier.lastTo("1001"); !strings.Contains(last, "admin-only") {
		t.Errorf("reply = %q, want admin-only notice", last)
	}
}

func TestHandleMessage_UnknownCommand(t *testing.T) {
	f := newFixture(nil,
		[]*operator.Operator{testOperator("1001", operator.RoleUser)},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/frobnicate"))

	if last := f.notifier.lastTo("1001"); !strings.Contains(last, "Unknown command") {
		t.Errorf("reply = %q, want unknown-command notice", last)
	}
}

func TestHandleMessage_NoLinkedDevices(t *testing.T) {
	f := newFixture(nil,
		[]*operator.Operator{testOperator("1001", operator.RoleUser)},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/on"))

	if last := f.notifier.lastTo("1001"); !strings.Contains(last, "no devices linked") {
		t.Errorf("reply = %q, want no-devices notice", last)
	}
}

func TestHandleMessage_HelpHidesAdminCommands(t *testing.T) {
	f := newFixture(nil,
		[]*operator.Operator{testOperator("1001", operator.RoleUser)},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/help"))

	help := f.notifier.lastTo("1001")
	if strings.Contains(help, "/invite") {
		t.Errorf("help for a user must not list admin commands:\n%s", help)
	}
	if !strings.Contains(help, "/status") {
		t.Errorf("help missing /status:\n%s", help)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantArgs []string
	}{
		{"/on", "on", nil},
		{"/ON Barn", "on", []string{"Barn"}},
		{"/schedule@vigilbot 22:30 07:00", "schedule", []string{"22:30", "07:00"}},
		{"hello there", "", nil},
		{"  ", "", nil},
	}
	for _, tt := range tests {
		name, args := parseCommand(tt.in)
		if name != tt.wantName {
			t.Errorf("parseCommand(%q) name = %q, want %q", tt.in, name, tt.wantName)
		}
		if len(args) != len(tt.wantArgs) {
			t.Errorf("parseCommand(%q) args = %v, want %v", tt.in, args, tt.wantArgs)
			continue
		}
		for i := range args {
			if args[i] != tt.wantArgs[i] {
				t.Errorf("parseCommand(%q) args = %v, want %v", tt.in, args, tt.wantArgs)
				break
			}
		}
	}
}

func TestHandleMessage_StatusRendersState(t *testing.T) {
	dev := testDevice("alarm-01", "Gate")
	dev.Armed = true
	dev.RSSI = -61
	f := newFixture(
		[]*device.Device{dev},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)

	f.d.HandleMessage(context.Background(), msg("1001", "/status"))

	status := f.notifier.lastTo("1001")
	for _, want := range []string{"Gate", "armed", "-61"} {
		if !strings.Contains(status, want) {
			t.Errorf("status = %q, missing %q", status, want)
		}
	}
}

// ─── Prompt expiry ───

func TestSweep_ExpiredSelectionNotifiesOperator(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate"), testDevice("alarm-02", "Barn")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01", "alarm-02")},
	)

	_, err := f.pendings.Create("1001", pending.KindDeviceSelection,
		[]string{"alarm-01", "alarm-02"},
		map[string]any{"command": "off"}, time.Nanosecond)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(time.Millisecond)

	if expired := f.pendings.Sweep(); expired != 1 {
		t.Fatalf("Sweep() = %d, want 1", expired)
	}
	last := f.notifier.lastTo("1001")
	if !strings.Contains(last, "expired") || !strings.Contains(last, "/off") {
		t.Errorf("notice = %q, want lapsed-selection notice naming /off", last)
	}
}

func TestSweep_ExpiredUnlinkNotifiesOperator(t *testing.T) {
	f := newFixture(
		[]*device.Device{testDevice("alarm-01", "Gate")},
		[]*operator.Operator{testOperator("1001", operator.RoleUser, "alarm-01")},
	)

	_, err := f.pendings.Create("1001", pending.KindUnlinkConfirm,
		[]string{"alarm-01"}, nil, time.Nanosecond)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(time.Millisecond)

	if expired := f.pendings.Sweep(); expired != 1 {
		t.Fatalf("Sweep() = %d, want 1", expired)
	}
	last := f.notifier.lastTo("1001")
	if !strings.Contains(last, "Unlink confirmation expired") {
		t.Errorf("notice = %q, want lapsed-unlink notice", last)
	}
}
