package bengala

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/vigil-core/internal/correlation"
	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/operator"
	"github.com/nerrad567/vigil-core/internal/pending"
)

// DeviceDirectory is the slice of the device registry the coordinator needs.
type DeviceDirectory interface {
	Get(ctx context.Context, id string) (*device.Device, error)
	SetBengalaMode(ctx context.Context, id string, mode device.BengalaMode) error
	AlarmingDevices(ids []string) []device.Device
}

// OperatorDirectory resolves operators and device assignments.
type OperatorDirectory interface {
	GetByID(ctx context.Context, id string) (*operator.Operator, error)
	ListForDevice(ctx context.Context, deviceID string) ([]operator.Operator, error)
}

// Commander issues correlated commands to controllers.
type Commander interface {
	Send(ctx context.Context, deviceIDs []string, kind string, args map[string]any, timeout time.Duration) ([]correlation.Result, error)
}

// Queuer stores commands for offline controllers.
// Satisfied by device.Repository.
type Queuer interface {
	EnqueueCommand(ctx context.Context, cmd *device.QueuedCommand) error
}

// Notifier delivers a text message to an operator's chat.
type Notifier interface {
	Notify(operatorID, text string)
}

// Logger is the minimal logging interface the coordinator needs.
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

// Config carries the coordinator's timing knobs.
type Config struct {
	// ConfirmExpiry is how long an ask-mode prompt stays answerable.
	ConfirmExpiry time.Duration

	// ReminderInterval is the gap between reminder messages while a
	// prompt is awaiting and the alarm is still active.
	ReminderInterval time.Duration

	// SendTimeout is the per-device wait for command replies.
	SendTimeout time.Duration
}

// Coordinator drives the bengala response for alarming devices.
type Coordinator struct {
	devices   DeviceDirectory
	operators OperatorDirectory
	commander Commander
	queue     Queuer
	pendings  *pending.Store
	notifier  Notifier
	cfg       Config
	logger    Logger
}

// NewCoordinator wires the coordinator and registers its expiry handler
// on the pending store.
func NewCoordinator(devices DeviceDirectory, operators OperatorDirectory, commander Commander, queue Queuer, pendings *pending.Store, notifier Notifier, cfg Config) *Coordinator {
	c := &Coordinator{
		devices:   devices,
		operators: operators,
		commander: commander,
		queue:     queue,
		pendings:  pendings,
		notifier:  notifier,
		cfg:       cfg,
		logger:    noopLogger{},
	}
	pendings.OnExpire(pending.KindBengalaConfirm, c.handleExpiry)
	return c
}

// SetLogger attaches a logger. Passing nil restores the no-op logger.
func (c *Coordinator) SetLogger(l Logger) {
	if l == nil {
		c.logger = noopLogger{}
		return
	}
	c.logger = l
}

// HandleAlarm applies the device's bengala policy to a freshly tripped
// alarm: fire immediately in auto mode, prompt every linked operator in
// ask mode, do nothing in disabled mode.
func (c *Coordinator) HandleAlarm(ctx context.Context, deviceID string) error {
	dev, err := c.devices.Get(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("resolving device %s: %w", deviceID, err)
	}

	switch dev.BengalaMode {
	case device.ModeAuto:
		c.logger.Info("bengala auto-firing", "device_id", deviceID)
		_, err := c.Fire(ctx, []string{deviceID})
		return err

	case device.ModeAsk:
		return c.promptOperators(ctx, dev)

	case device.ModeDisabled:
		c.logger.Debug("bengala disabled, ignoring alarm", "device_id", deviceID)
		return nil

	default:
		return device.ErrInvalidMode
	}
}

// promptOperators opens a confirmation prompt for every active operator
// linked to the device and starts their reminder loops.
func (c *Coordinator) promptOperators(ctx context.Context, dev *device.Device) error {
	ops, err := c.operators.ListForDevice(ctx, dev.ID)
	if err != nil {
		return fmt.Errorf("listing operators for %s: %w", dev.ID, err)
	}
	if len(ops) == 0 {
		c.logger.Warn("alarm with no linked operators, bengala stays cold",
			"device_id", dev.ID)
		return nil
	}

	for _, op := range ops {
		if _, err := c.pendings.Create(op.ID, pending.KindBengalaConfirm,
			[]string{dev.ID}, nil, c.cfg.ConfirmExpiry); err != nil {
			return err
		}
		c.notifier.Notify(op.ID, fmt.Sprintf(
			"🚨 Alarm on %s. Fire the bengala? /confirm or /cancel", dev.Name))
		go c.remindLoop(ctx, op.ID, dev.ID)
	}
	return nil
}

// remindLoop nags the operator while the prompt is awaiting and the
// alarm is still active. It exits when either condition clears.
func (c *Coordinator) remindLoop(ctx context.Context, operatorID, deviceID string) {
	ticker := time.NewTicker(c.cfg.ReminderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		action, err := c.pendings.Get(operatorID, pending.KindBengalaConfirm)
		if err != nil {
			return // resolved or expired
		}
		if len(action.DeviceIDs) != 1 || action.DeviceIDs[0] != deviceID {
			return // prompt replaced by a newer alarm, its loop takes over
		}
		if action.ExpiresAt != nil && !action.ExpiresAt.After(time.Now()) {
			return // sweep will report the expiry
		}

		dev, err := c.devices.Get(ctx, deviceID)
		if err != nil || !dev.AlarmActive {
			return
		}

		c.notifier.Notify(operatorID, fmt.Sprintf(
			"⏰ Still waiting: fire the bengala on %s? /confirm or /cancel", dev.Name))
	}
}

// Confirm resolves an operator's /confirm.
//
// With a prompt awaiting, the prompt's devices fire. With nothing
// awaiting, the flare fires on every alarming device the operator is
// linked to; ErrNothingToFire when there are none.
//
// Returns the device IDs the flare was fired on.
func (c *Coordinator) Confirm(ctx context.Context, operatorID string) ([]string, error) {
	action, err := c.pendings.Confirm(operatorID, pending.KindBengalaConfirm)
	if err == nil {
		if _, err := c.Fire(ctx, action.DeviceIDs); err != nil {
			return nil, err
		}
		return action.DeviceIDs, nil
	}

	op, err := c.operators.GetByID(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	alarming := c.devices.AlarmingDevices(op.DeviceIDs)
	if len(alarming) == 0 {
		return nil, ErrNothingToFire
	}

	ids := make([]string, len(alarming))
	for i, dev := range alarming {
		ids[i] = dev.ID
	}
	if _, err := c.Fire(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Cancel dismisses an operator's awaiting bengala prompt.
func (c *Coordinator) Cancel(operatorID string) error {
	_, err := c.pendings.Cancel(operatorID, pending.KindBengalaConfirm)
	return err
}

// Fire launches the flare and forces the siren on the given devices.
func (c *Coordinator) Fire(ctx context.Context, deviceIDs []string) ([]correlation.Result, error) {
	results, err := c.commander.Send(ctx, deviceIDs, "activate_bengala", nil, c.cfg.SendTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := c.commander.Send(ctx, deviceIDs, "trigger_alarm", nil, c.cfg.SendTimeout); err != nil {
		return results, err
	}
	return results, nil
}

// SetMode changes a device's bengala mode, writing through to the store
// and pushing the new mode to the controller. An offline controller gets
// the change queued for its next contact.
func (c *Coordinator) SetMode(ctx context.Context, deviceID string, mode device.BengalaMode) error {
	if err := c.devices.SetBengalaMode(ctx, deviceID, mode); err != nil {
		return err
	}

	dev, err := c.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}

	args := map[string]any{"mode": string(mode)}
	if !dev.Online {
		return c.queueModePush(ctx, deviceID, args)
	}

	results, err := c.commander.Send(ctx, []string{deviceID}, "set_bengala_mode", args, c.cfg.SendTimeout)
	if err != nil {
		return err
	}
	if results[0].Err != nil {
		c.logger.Warn("mode push failed, queueing for next contact",
			"device_id", deviceID, "error", results[0].Err)
		return c.queueModePush(ctx, deviceID, args)
	}
	return nil
}

func (c *Coordinator) queueModePush(ctx context.Context, deviceID string, args map[string]any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return c.queue.EnqueueCommand(ctx, &device.QueuedCommand{
		DeviceID: deviceID,
		Kind:     "set_bengala_mode",
		Payload:  payload,
	})
}

// handleExpiry tells the operator their prompt lapsed unanswered.
func (c *Coordinator) handleExpiry(action *pending.Action) {
	c.logger.Info("bengala confirmation expired",
		"operator_id", action.OperatorID, "devices", action.DeviceIDs)
	c.notifier.Notify(action.OperatorID,
		"⌛ Bengala confirmation expired without an answer. The flare was not fired.")
}
