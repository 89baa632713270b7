package bengala

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vigil-core/internal/correlation"
	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/operator"
	"github.com/nerrad567/vigil-core/internal/pending"
)

// mockDeviceDir serves canned devices and records mode changes.
type mockDeviceDir struct {
	mu      sync.Mutex
	devices map[string]*device.Device
	modes   map[string]device.BengalaMode
}

func (m *mockDeviceDir) Get(_ context.Context, id string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev, ok := m.devices[id]
	if !ok {
		return nil, device.ErrNotFound
	}
	return dev.DeepCopy(), nil
}

func (m *mockDeviceDir) SetBengalaMode(_ context.Context, id string, mode device.BengalaMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev, ok := m.devices[id]
	if !ok {
		return device.ErrNotFound
	}
	dev.BengalaMode = mode
	if m.modes == nil {
		m.modes = make(map[string]device.BengalaMode)
	}
	m.modes[id] = mode
	return nil
}

func (m *mockDeviceDir) AlarmingDevices(ids []string) []device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []device.Device
	for _, id := range ids {
		if dev, ok := m.devices[id]; ok && dev.AlarmActive {
			out = append(out, *dev.DeepCopy())
		}
	}
	return out
}

// mockOperatorDir serves canned operators.
type mockOperatorDir struct {
	operators map[string]*operator.Operator
	linked    map[string][]operator.Operator
}

func (m *mockOperatorDir) GetByID(_ context.Context, id string) (*operator.Operator, error) {
	op, ok := m.operators[id]
	if !ok {
		return nil, operator.ErrNotFound
	}
	return op, nil
}

func (m *mockOperatorDir) ListForDevice(_ context.Context, deviceID string) ([]operator.Operator, error) {
	return m.linked[deviceID], nil
}

// mockCommander records sent command kinds per call.
type mockCommander struct {
	mu     sync.Mutex
	sent   []sentBatch
	perDev error
}

type sentBatch struct {
	deviceIDs []string
	kind      string
}

func (m *mockCommander) Send(_ context.Context, deviceIDs []string, kind string, _ map[string]any, _ time.Duration) ([]correlation.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentBatch{deviceIDs: deviceIDs, kind: kind})
	results := make([]correlation.Result, len(deviceIDs))
	for i, id := range deviceIDs {
		results[i] = correlation.Result{DeviceID: id, Err: m.perDev}
		if m.perDev == nil {
			results[i].Reply = &correlation.Reply{Status: "ok"}
		}
	}
	return results, nil
}

func (m *mockCommander) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, b := range m.sent {
		out[i] = b.kind
	}
	return out
}

// mockQueue records enqueued offline commands.
type mockQueue struct {
	mu   sync.Mutex
	cmds []*device.QueuedCommand
}

func (m *mockQueue) EnqueueCommand(_ context.Context, cmd *device.QueuedCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmds = append(m.cmds, cmd)
	return nil
}

// mockNotifier records per-operator messages.
type mockNotifier struct {
	mu       sync.Mutex
	messages map[string][]string
}

func (m *mockNotifier) Notify(operatorID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages == nil {
		m.messages = make(map[string][]string)
	}
	m.messages[operatorID] = append(m.messages[operatorID], text)
}

func (m *mockNotifier) count(operatorID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[operatorID])
}

type fixture struct {
	coord     *Coordinator
	devices   *mockDeviceDir
	operators *mockOperatorDir
	commander *mockCommander
	queue     *mockQueue
	pendings  *pending.Store
	notifier  *mockNotifier
}

func newFixture(mode device.BengalaMode) *fixture {
	devices := &mockDeviceDir{devices: map[string]*device.Device{
		"alarm-01": {ID: "alarm-01", Name: "Gate", Online: true, AlarmActive: true, BengalaMode: mode},
	}}
	operators := &mockOperatorDir{
		operators: map[string]*operator.Operator{
			"1001": {ID: "1001", DisplayName: "Ana", Role: operator.RoleUser, IsActive: true, DeviceIDs: []string{"alarm-01"}},
		},
		linked: map[string][]operator.Operator{
			"alarm-01": {{ID: "1001", DisplayName: "Ana", Role: operator.RoleUser, IsActive: true, DeviceIDs: []string{"alarm-01"}}},
		},
	}
	commander := &mockCommander{}
	queue := &mockQueue{}
	pendings := pending.NewStore()
	notifier := &mockNotifier{}

	coord := NewCoordinator(devices, operators, commander, queue, pendings, notifier, Config{
		ConfirmExpiry:    2 * time.Minute,
		ReminderInterval: time.Hour, // quiet unless a test shortens it
		SendTimeout:      time.Second,
	})
	return &fixture{coord, devices, operators, commander, queue, pendings, notifier}
}

// ─── Alarm Policy ───

func TestHandleAlarm_AutoFires(t *testing.T) {
	f := newFixture(device.ModeAuto)

	if err := f.coord.HandleAlarm(context.Background(), "alarm-01"); err != nil {
		t.Fatalf("HandleAlarm() error = %v", err)
	}

	kinds := f.commander.kinds()
	if len(kinds) != 2 || kinds[0] != "activate_bengala" || kinds[1] != "trigger_alarm" {
		t.Errorf("sent = %v, want [activate_bengala trigger_alarm]", kinds)
	}
	if f.pendings.Count() != 0 {
		t.Error("auto mode must not open prompts")
	}
}

func TestHandleAlarm_DisabledDoesNothing(t *testing.T) {
	f := newFixture(device.ModeDisabled)

	if err := f.coord.HandleAlarm(context.Background(), "alarm-01"); err != nil {
		t.Fatalf("HandleAlarm() error = %v", err)
	}
	if len(f.commander.kinds()) != 0 {
		t.Errorf("sent = %v, want nothing in disabled mode", f.commander.kinds())
	}
}

func TestHandleAlarm_AskPromptsOperators(t *testing.T) {
	f := newFixture(device.ModeAsk)

	if err := f.coord.HandleAlarm(context.Background(), "alarm-01"); err != nil {
		t.Fatalf("HandleAlarm() error = %v", err)
	}

	if len(f.commander.kinds()) != 0 {
		t.Error("ask mode must not fire before confirmation")
	}
	action, err := f.pendings.Get("1001", pending.KindBengalaConfirm)
	if err != nil {
		t.Fatalf("no prompt opened: %v", err)
	}
	if action.DeviceIDs[0] != "alarm-01" {
		t.Errorf("prompt targets %v", action.DeviceIDs)
	}
	if f.notifier.count("1001") != 1 {
		t.Errorf("prompts sent = %d, want 1", f.notifier.count("1001"))
	}
}

func TestHandleAlarm_UnknownDevice(t *testing.T) {
	f := newFixture(device.ModeAuto)

	if err := f.coord.HandleAlarm(context.Background(), "ghost"); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("HandleAlarm(ghost) error = %v, want ErrNotFound", err)
	}
}

// ─── Confirmation ───

func TestConfirm_WithPromptFiresPromptDevices(t *testing.T) {
	f := newFixture(device.ModeAsk)
	ctx := context.Background()
	_ = f.coord.HandleAlarm(ctx, "alarm-01")

	fired, err := f.coord.Confirm(ctx, "1001")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if len(fired) != 1 || fired[0] != "alarm-01" {
		t.Errorf("fired on %v, want [alarm-01]", fired)
	}
	if kinds := f.commander.kinds(); len(kinds) != 2 {
		t.Errorf("sent = %v, want flare + siren", kinds)
	}

	// The prompt is consumed; a second confirm falls through to the
	// direct path (device still alarming, so it fires again).
	if _, err := f.pendings.Get("1001", pending.KindBengalaConfirm); !errors.Is(err, pending.ErrNotPending) {
		t.Error("prompt should be consumed by Confirm()")
	}
}

func TestConfirm_NoPromptFiresAlarmingDevices(t *testing.T) {
	f := newFixture(device.ModeAsk) // no HandleAlarm, so nothing pending

	fired, err := f.coord.Confirm(context.Background(), "1001")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if len(fired) != 1 || fired[0] != "alarm-01" {
		t.Errorf("fired on %v, want the operator's alarming device", fired)
	}
}

func TestConfirm_NothingToFire(t *testing.T) {
	f := newFixture(device.ModeAsk)
	f.devices.devices["alarm-01"].AlarmActive = false

	if _, err := f.coord.Confirm(context.Background(), "1001"); !errors.Is(err, ErrNothingToFire) {
		t.Errorf("Confirm() error = %v, want ErrNothingToFire", err)
	}
	if len(f.commander.kinds()) != 0 {
		t.Error("nothing must fire without an alarm")
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(device.ModeAsk)
	ctx := context.Background()
	_ = f.coord.HandleAlarm(ctx, "alarm-01")

	if err := f.coord.Cancel("1001"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := f.coord.Cancel("1001"); !errors.Is(err, pending.ErrNotPending) {
		t.Errorf("second Cancel() = %v, want ErrNotPending", err)
	}
	if len(f.commander.kinds()) != 0 {
		t.Error("cancel must not fire")
	}
}

// ─── Reminders / Expiry ───

func TestRemindLoop_NagsUntilResolved(t *testing.T) {
	f := newFixture(device.ModeAsk)
	f.coord.cfg.ReminderInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = f.coord.HandleAlarm(ctx, "alarm-01")

	deadline := time.Now().Add(time.Second)
	for f.notifier.count("1001") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.notifier.count("1001") < 2 {
		t.Fatal("expected at least one reminder after the prompt")
	}

	// Resolving the prompt stops the nagging.
	if _, err := f.coord.Confirm(ctx, "1001"); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	settled := f.notifier.count("1001")
	time.Sleep(50 * time.Millisecond)
	if got := f.notifier.count("1001"); got > settled+1 {
		t.Errorf("reminders kept flowing after resolution: %d -> %d", settled, got)
	}
}

func TestRemindLoop_ReplacedPromptStopsOldReminders(t *testing.T) {
	f := newFixture(device.ModeAsk)
	f.coord.cfg.ReminderInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A second alarming device linked to the same operator.
	f.devices.mu.Lock()
	f.devices.devices["alarm-02"] = &device.Device{
		ID: "alarm-02", Name: "Barn", Online: true, AlarmActive: true, BengalaMode: device.ModeAsk,
	}
	f.devices.mu.Unlock()
	f.operators.linked["alarm-02"] = f.operators.linked["alarm-01"]

	_ = f.coord.HandleAlarm(ctx, "alarm-01")
	// The second alarm replaces the operator's prompt.
	_ = f.coord.HandleAlarm(ctx, "alarm-02")

	// Let the first loop observe the replacement and exit.
	time.Sleep(50 * time.Millisecond)
	f.notifier.mu.Lock()
	settled := len(f.notifier.messages["1001"])
	f.notifier.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for f.notifier.count("1001") < settled+2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	f.notifier.mu.Lock()
	later := append([]string(nil), f.notifier.messages["1001"][settled:]...)
	f.notifier.mu.Unlock()
	if len(later) < 2 {
		t.Fatal("expected reminders for the replacement prompt")
	}
	for _, msg := range later {
		if strings.Contains(msg, "Gate") {
			t.Errorf("stale reminder for replaced prompt: %q", msg)
		}
		if !strings.Contains(msg, "Barn") {
			t.Errorf("reminder = %q, want the replacement device", msg)
		}
	}
}

func TestExpiry_NotifiesOperator(t *testing.T) {
	f := newFixture(device.ModeAsk)

	// Open a prompt that is already past its deadline, then sweep.
	_, _ = f.pendings.Create("1001", pending.KindBengalaConfirm, []string{"alarm-01"}, nil, time.Nanosecond)
	time.Sleep(time.Millisecond)
	f.pendings.Sweep()

	found := false
	f.notifier.mu.Lock()
	for _, msg := range f.notifier.messages["1001"] {
		if strings.Contains(msg, "expired") {
			found = true
		}
	}
	f.notifier.mu.Unlock()
	if !found {
		t.Error("operator should be told the confirmation expired")
	}
}

// ─── Mode Changes ───

func TestSetMode_OnlinePushes(t *testing.T) {
	f := newFixture(device.ModeAsk)

	if err := f.coord.SetMode(context.Background(), "alarm-01", device.ModeAuto); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if f.devices.modes["alarm-01"] != device.ModeAuto {
		t.Error("mode not written through")
	}
	if kinds := f.commander.kinds(); len(kinds) != 1 || kinds[0] != "set_bengala_mode" {
		t.Errorf("sent = %v, want [set_bengala_mode]", kinds)
	}
	if len(f.queue.cmds) != 0 {
		t.Error("online push must not queue")
	}
}

func TestSetMode_OfflineQueues(t *testing.T) {
	f := newFixture(device.ModeAsk)
	f.devices.devices["alarm-01"].Online = false

	if err := f.coord.SetMode(context.Background(), "alarm-01", device.ModeDisabled); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if len(f.commander.kinds()) != 0 {
		t.Error("offline device must not be sent to directly")
	}
	if len(f.queue.cmds) != 1 || f.queue.cmds[0].Kind != "set_bengala_mode" {
		t.Fatalf("queue = %+v, want one set_bengala_mode", f.queue.cmds)
	}
}

func TestSetMode_UnresponsiveQueues(t *testing.T) {
	f := newFixture(device.ModeAsk)
	f.commander.perDev = correlation.ErrUnresponsive

	if err := f.coord.SetMode(context.Background(), "alarm-01", device.ModeAuto); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if len(f.queue.cmds) != 1 {
		t.Error("unresponsive push should fall back to the queue")
	}
}
