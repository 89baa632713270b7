package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/vigil-core/internal/correlation"
	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/infrastructure/mqtt"
)

// Bus is the subscription surface of the MQTT client.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// DeviceState is the registry surface the bridge mutates.
type DeviceState interface {
	Get(ctx context.Context, id string) (*device.Device, error)
	ApplyTelemetry(ctx context.Context, t device.Telemetry) (cameOnline bool, err error)
	SetArmed(ctx context.Context, id string, armed bool) error
	SetAlarmActive(ctx context.Context, id string, active bool) error
}

// ReplySink receives decoded controller replies.
type ReplySink interface {
	HandleReply(deviceID string, payload []byte) error
}

// AlarmFlow starts the deterrent decision for an alarming device.
type AlarmFlow interface {
	HandleAlarm(ctx context.Context, deviceID string) error
}

// Commander replays queued commands with fresh correlation tokens.
type Commander interface {
	Send(ctx context.Context, deviceIDs []string, kind string, args map[string]any, timeout time.Duration) ([]correlation.Result, error)
}

// CommandQueue is the offline command store the bridge drains on reconnect.
type CommandQueue interface {
	PendingCommands(ctx context.Context, deviceID string, maxAge time.Duration) ([]device.QueuedCommand, error)
	DeleteCommand(ctx context.Context, id string) error
}

// ScheduleSync pushes a dirty schedule to a freshly reachable device.
type ScheduleSync interface {
	SyncDevice(ctx context.Context, deviceID string) error
}

// History receives points for the time-series store. Writes are
// fire-and-forget; the sink buffers and batches internally.
type History interface {
	WriteTelemetry(deviceID string, armed, alarmActive bool, rssi int)
	WriteEvent(deviceID, kind string)
}

// Notifier delivers operator-facing messages and audit records.
type Notifier interface {
	NotifyDevice(ctx context.Context, deviceID, text string)
	AlarmTriggered(ctx context.Context, deviceID, deviceName string)
	Record(ctx context.Context, kind, actor, deviceID, detail string)
}

// Logger is the minimal logging interface the bridge needs.
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

// Config carries the bridge's knobs.
type Config struct {
	// QoS for the bus subscriptions.
	QoS byte

	// ReplayMaxAge drops queued commands older than this on replay.
	ReplayMaxAge time.Duration

	// ReplayWait is the per-command reply window during queue replay.
	ReplayWait time.Duration
}

// event is the wire shape of an unsolicited controller event.
type event struct {
	DeviceID string `json:"device_id"`
	Event    string `json:"event"`
	Detail   string `json:"detail,omitempty"`
}

// Bridge routes decoded bus traffic to the core services.
type Bridge struct {
	bus       Bus
	devices   DeviceState
	replies   ReplySink
	alarms    AlarmFlow
	commander Commander
	queue     CommandQueue
	schedules ScheduleSync
	notifier  Notifier
	history   History
	cfg       Config
	logger    Logger

	// ctx bounds handler work; MQTT callbacks carry no context of
	// their own.
	ctx context.Context

	now func() time.Time
}

// New wires a bridge. Call Start to subscribe.
func New(bus Bus, devices DeviceState, replies ReplySink, alarms AlarmFlow, commander Commander, queue CommandQueue, schedules ScheduleSync, notifier Notifier, cfg Config) *Bridge {
	if cfg.ReplayMaxAge == 0 {
		cfg.ReplayMaxAge = 24 * time.Hour
	}
	if cfg.ReplayWait == 0 {
		cfg.ReplayWait = 5 * time.Second
	}
	return &Bridge{
		bus:       bus,
		devices:   devices,
		replies:   replies,
		alarms:    alarms,
		commander: commander,
		queue:     queue,
		schedules: schedules,
		notifier:  notifier,
		cfg:       cfg,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetHistory attaches a time-series sink. Nil disables history writes.
func (b *Bridge) SetHistory(h History) {
	b.history = h
}

// SetLogger attaches a logger. Passing nil restores the no-op logger.
func (b *Bridge) SetLogger(l Logger) {
	if l == nil {
		b.logger = noopLogger{}
		return
	}
	b.logger = l
}

// Start subscribes to the event, telemetry and reply topics. The given
// context bounds all handler work; cancel it on shutdown.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx
	topics := mqtt.Topics{}

	if err := b.bus.Subscribe(topics.DeviceEvent(), b.cfg.QoS, b.onEvent); err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	if err := b.bus.Subscribe(topics.DeviceTelemetry(), b.cfg.QoS, b.onTelemetry); err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	if err := b.bus.Subscribe(topics.AllDeviceReplies(), b.cfg.QoS, b.onReply); err != nil {
		return fmt.Errorf("subscribing to replies: %w", err)
	}

	b.logger.Info("device bus bridge started")
	return nil
}

// onEvent handles one unsolicited controller event.
func (b *Bridge) onEvent(_ string, payload []byte) error {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.logger.Warn("malformed event payload", "error", err)
		return nil // not retryable
	}
	if ev.DeviceID == "" || ev.Event == "" {
		b.logger.Warn("event missing device_id or event", "payload", string(payload))
		return nil
	}
	if b.history != nil {
		b.history.WriteEvent(ev.DeviceID, ev.Event)
	}

	ctx := b.ctx
	switch ev.Event {
	case "alarm_triggered":
		if err := b.devices.SetAlarmActive(ctx, ev.DeviceID, true); err != nil {
			b.logger.Error("recording alarm activation",
				"device_id", ev.DeviceID, "error", err)
			return nil
		}
		b.notifier.AlarmTriggered(ctx, ev.DeviceID, b.deviceName(ctx, ev.DeviceID))
		b.notifier.NotifyDevice(ctx, ev.DeviceID, fmt.Sprintf(
			"🚨 ALARM on %s!", b.deviceName(ctx, ev.DeviceID)))
		if err := b.alarms.HandleAlarm(ctx, ev.DeviceID); err != nil {
			b.logger.Error("deterrent flow", "device_id", ev.DeviceID, "error", err)
		}

	case "alarm_cleared":
		if err := b.devices.SetAlarmActive(ctx, ev.DeviceID, false); err != nil {
			b.logger.Error("recording alarm clearance",
				"device_id", ev.DeviceID, "error", err)
			return nil
		}
		b.notifier.Record(ctx, "alarm_cleared", "device", ev.DeviceID, ev.Detail)
		b.notifier.NotifyDevice(ctx, ev.DeviceID, fmt.Sprintf(
			"✅ Alarm on %s cleared.", b.deviceName(ctx, ev.DeviceID)))

	case "armed", "disarmed":
		// Local keypad change at the controller.
		if err := b.devices.SetArmed(ctx, ev.DeviceID, ev.Event == "armed"); err != nil {
			b.logger.Error("recording armed state",
				"device_id", ev.DeviceID, "error", err)
			return nil
		}
		b.notifier.Record(ctx, ev.Event, "device", ev.DeviceID, ev.Detail)
		b.notifier.NotifyDevice(ctx, ev.DeviceID, fmt.Sprintf(
			"%s was %s at the panel.", b.deviceName(ctx, ev.DeviceID), ev.Event))

	case "bengala_fired":
		b.notifier.Record(ctx, "bengala_fired", "device", ev.DeviceID, ev.Detail)

	default:
		b.logger.Debug("unhandled event kind",
			"device_id", ev.DeviceID, "event", ev.Event)
	}
	return nil
}

// onTelemetry handles one periodic state snapshot.
func (b *Bridge) onTelemetry(_ string, payload []byte) error {
	var t device.Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		b.logger.Warn("malformed telemetry payload", "error", err)
		return nil
	}
	if t.DeviceID == "" {
		return nil
	}
	if t.Time.IsZero() {
		t.Time = b.now()
	}
	if b.history != nil {
		b.history.WriteTelemetry(t.DeviceID, t.Armed, t.AlarmActive, t.RSSI)
	}

	ctx := b.ctx
	cameOnline, err := b.devices.ApplyTelemetry(ctx, t)
	if err != nil {
		b.logger.Warn("applying telemetry", "device_id", t.DeviceID, "error", err)
		return nil
	}
	if !cameOnline {
		return nil
	}

	b.logger.Info("device back online", "device_id", t.DeviceID)
	b.notifier.Record(ctx, "came_online", "device", t.DeviceID, "")
	b.notifier.NotifyDevice(ctx, t.DeviceID, fmt.Sprintf(
		"📡 %s is back online.", b.deviceName(ctx, t.DeviceID)))

	b.replayQueued(ctx, t.DeviceID)
	if err := b.schedules.SyncDevice(ctx, t.DeviceID); err != nil {
		b.logger.Error("syncing schedule on reconnect",
			"device_id", t.DeviceID, "error", err)
	}
	return nil
}

// onReply hands a controller reply to the correlation tracker.
func (b *Bridge) onReply(topic string, payload []byte) error {
	deviceID, ok := mqtt.ParseDeviceID(topic)
	if !ok {
		b.logger.Warn("reply on unparseable topic", "topic", topic)
		return nil
	}
	if err := b.replies.HandleReply(deviceID, payload); err != nil {
		b.logger.Debug("reply not delivered", "device_id", deviceID, "error", err)
	}
	return nil
}

// replayQueued drains a device's offline command queue, one correlated
// command at a time. A command is deleted only after the controller
// acknowledges it; anything still failing stays queued for next contact.
func (b *Bridge) replayQueued(ctx context.Context, deviceID string) {
	cmds, err := b.queue.PendingCommands(ctx, deviceID, b.cfg.ReplayMaxAge)
	if err != nil {
		b.logger.Error("loading queued commands", "device_id", deviceID, "error", err)
		return
	}

	for _, cmd := range cmds {
		var args map[string]any
		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &args); err != nil {
				b.logger.Error("dropping queued command with bad payload",
					"command_id", cmd.ID, "error", err)
				if err := b.queue.DeleteCommand(ctx, cmd.ID); err != nil {
					b.logger.Error("deleting bad queued command",
						"command_id", cmd.ID, "error", err)
				}
				continue
			}
		}

		results, err := b.commander.Send(ctx, []string{deviceID}, cmd.Kind, args, b.cfg.ReplayWait)
		if err != nil || len(results) == 0 || results[0].Err != nil || !results[0].Reply.OK() {
			b.logger.Warn("queued command replay failed, keeping it",
				"command_id", cmd.ID, "kind", cmd.Kind)
			return // device flaky again; try the rest next contact
		}

		if err := b.queue.DeleteCommand(ctx, cmd.ID); err != nil {
			b.logger.Error("deleting replayed command",
				"command_id", cmd.ID, "error", err)
		}
		b.logger.Info("queued command replayed",
			"device_id", deviceID, "kind", cmd.Kind)
	}
}

// deviceName resolves a display name, falling back to the ID.
func (b *Bridge) deviceName(ctx context.Context, id string) string {
	d, err := b.devices.Get(ctx, id)
	if err != nil || d.Name == "" {
		return id
	}
	return d.Name
}
