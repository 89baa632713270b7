package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/vigil-core/internal/chat"
	"github.com/nerrad567/vigil-core/internal/correlation"
	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/enroll"
	"github.com/nerrad567/vigil-core/internal/guard"
	"github.com/nerrad567/vigil-core/internal/operator"
	"github.com/nerrad567/vigil-core/internal/pending"
	"github.com/nerrad567/vigil-core/internal/schedule"
)

// DeviceDirectory is the slice of the device registry the dispatcher needs.
type DeviceDirectory interface {
	Get(ctx context.Context, id string) (*device.Device, error)
	AlarmingDevices(ids []string) []device.Device
	SetArmed(ctx context.Context, id string, armed bool) error
}

// OperatorStore resolves senders and manages device links.
type OperatorStore interface {
	GetByID(ctx context.Context, id string) (*operator.Operator, error)
	List(ctx context.Context) ([]operator.Operator, error)
	UnlinkDevice(ctx context.Context, operatorID, deviceID string) error
}

// Commander issues correlated commands to controllers.
type Commander interface {
	Send(ctx context.Context, deviceIDs []string, kind string, args map[string]any, timeout time.Duration) ([]correlation.Result, error)
}

// BengalaFlow is the bengala coordinator surface the dispatcher needs.
type BengalaFlow interface {
	Confirm(ctx context.Context, operatorID string) ([]string, error)
	SetMode(ctx context.Context, deviceID string, mode device.BengalaMode) error
}

// Enrollment is the invite/join surface the dispatcher needs.
type Enrollment interface {
	IssueInvite(ctx context.Context, deviceID, issuedBy string) (*enroll.Invite, error)
	DeepLink(code string) string
	QRCode(code string) ([]byte, error)
	Redeem(ctx context.Context, identity, displayName, code string) (*enroll.JoinRequest, error)
	Approve(ctx context.Context, identity string) (*enroll.JoinRequest, error)
	Deny(ctx context.Context, identity string) (*enroll.JoinRequest, error)
}

// ScheduleFlow persists schedule edits and serves the current one.
type ScheduleFlow interface {
	Apply(ctx context.Context, sched *schedule.Schedule) error
	Get(ctx context.Context, deviceID string) (*schedule.Schedule, error)
}

// Notifier delivers operator-facing text and records audit events.
type Notifier interface {
	Notify(operatorID, text string)
	NotifyAdmins(ctx context.Context, text string)
	Record(ctx context.Context, kind, actor, deviceID, detail string)
}

// Transport is the chat surface beyond plain text.
type Transport interface {
	SendKeyboard(operatorID, text string, rows ...[]chat.Button) error
	SendPhoto(operatorID, caption string, png []byte) error
}

// Gate is the anti-flood guard surface. Satisfied by *guard.Guard.
type Gate interface {
	TryAcquire(operatorID, command string) error
	Release(operatorID, command string)
}

// Logger is the minimal logging interface the dispatcher needs.
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

// Config carries the dispatcher's timing knobs.
type Config struct {
	// Wait is the reply window for routine commands.
	Wait time.Duration

	// ExtendedWait is the reply window for destructive commands.
	ExtendedWait time.Duration

	// ConfirmTTL is how long confirmation prompts stay answerable.
	ConfirmTTL time.Duration

	// SelectionTTL is how long device selection keyboards stay answerable.
	SelectionTTL time.Duration
}

// handlerFunc executes a resolved command.
type handlerFunc func(ctx context.Context, req *request) error

// command describes one slash command.
type command struct {
	name        string
	help        string
	adminOnly   bool
	gated       bool
	needsDevice bool
	handler     handlerFunc
}

// request is a parsed, permission-checked invocation.
type request struct {
	op        *operator.Operator
	args      []string
	deviceIDs []string // resolved targets for device commands
}

// Dispatcher routes chat input through the command pipeline.
type Dispatcher struct {
	commands  map[string]*command
	order     []string // registration order, for /help
	devices   DeviceDirectory
	operators OperatorStore
	commander Commander
	bengala   BengalaFlow
	enroll    Enrollment
	schedules ScheduleFlow
	pendings  *pending.Store
	gate      Gate
	notifier  Notifier
	transport Transport
	cfg       Config
	logger    Logger
}

// New wires the dispatcher and registers the built-in commands.
func New(devices DeviceDirectory, operators OperatorStore, commander Commander, bengalaFlow BengalaFlow, enrollment Enrollment, schedules ScheduleFlow, pendings *pending.Store, gate Gate, notifier Notifier, transport Transport, cfg Config) *Dispatcher {
	d := &Dispatcher{
		commands:  make(map[string]*command),
		devices:   devices,
		operators: operators,
		commander: commander,
		bengala:   bengalaFlow,
		enroll:    enrollment,
		schedules: schedules,
		pendings:  pendings,
		gate:      gate,
		notifier:  notifier,
		transport: transport,
		cfg:       cfg,
		logger:    noopLogger{},
	}
	d.registerBuiltins()
	pendings.OnExpire(pending.KindDeviceSelection, d.handleSelectionExpiry)
	pendings.OnExpire(pending.KindUnlinkConfirm, d.handleUnlinkExpiry)
	return d
}

// handleSelectionExpiry tells the operator a device choice keyboard
// lapsed before they answered it.
func (d *Dispatcher) handleSelectionExpiry(action *pending.Action) {
	name, _ := action.Payload["command"].(string)
	if name == "" {
		name = "command"
	}
	d.notifier.Notify(action.OperatorID, fmt.Sprintf(
		"Device choice for /%s expired. Send the command again when ready.", name))
}

// handleUnlinkExpiry tells the operator an unanswered unlink prompt lapsed.
func (d *Dispatcher) handleUnlinkExpiry(action *pending.Action) {
	d.notifier.Notify(action.OperatorID,
		"Unlink confirmation expired. Nothing was changed.")
}

// SetLogger attaches a logger. Passing nil restores the no-op logger.
func (d *Dispatcher) SetLogger(l Logger) {
	if l == nil {
		d.logger = noopLogger{}
		return
	}
	d.logger = l
}

func (d *Dispatcher) register(c *command) {
	d.commands[c.name] = c
	d.order = append(d.order, c.name)
}

func (d *Dispatcher) registerBuiltins() {
	d.register(&command{name: "on", help: "arm the alarm", gated: true, needsDevice: true, handler: d.cmdArm})
	d.register(&command{name: "off", help: "disarm the alarm", gated: true, needsDevice: true, handler: d.cmdDisarm})
	d.register(&command{name: "status", help: "show device status", gated: true, handler: d.cmdStatus})
	d.register(&command{name: "trigger", help: "sound the siren (asks first)", gated: true, needsDevice: true, handler: d.cmdTrigger})
	d.register(&command{name: "bengala", help: "fire the signal flare (asks first)", gated: true, needsDevice: true, handler: d.cmdBengala})
	d.register(&command{name: "confirm", help: "confirm a pending prompt", handler: d.cmdConfirm})
	d.register(&command{name: "cancel", help: "dismiss pending prompts", handler: d.cmdCancel})
	d.register(&command{name: "mode", help: "set the bengala mode", gated: true, needsDevice: true, handler: d.cmdMode})
	d.register(&command{name: "schedule", help: "show or edit the arm schedule", gated: true, needsDevice: true, handler: d.cmdSchedule})
	d.register(&command{name: "unlink", help: "unlink a device from you", needsDevice: true, handler: d.cmdUnlink})
	d.register(&command{name: "invite", help: "issue an invite code (admin)", adminOnly: true, needsDevice: true, handler: d.cmdInvite})
	d.register(&command{name: "approve", help: "approve a join request (admin)", adminOnly: true, handler: d.cmdApprove})
	d.register(&command{name: "deny", help: "deny a join request (admin)", adminOnly: true, handler: d.cmdDeny})
	d.register(&command{name: "help", help: "list commands", handler: d.cmdHelp})
	d.register(&command{name: "start", help: "welcome", handler: d.cmdHelp})
}

// HandleMessage runs one inbound text message through the pipeline.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg chat.Message) {
	name, args := parseCommand(msg.Text)
	if name == "" {
		d.notifier.Notify(msg.OperatorID, "Commands start with /. Try /help.")
		return
	}

	op, err := d.operators.GetByID(ctx, msg.OperatorID)
	if errors.Is(err, operator.ErrNotFound) || (err == nil && !op.IsActive) {
		d.handleStranger(ctx, msg, name, args)
		return
	}
	if err != nil {
		d.logger.Error("resolving sender", "operator_id", msg.OperatorID, "error", err)
		return
	}

	cmd, ok := d.commands[name]
	if !ok {
		d.notifier.Notify(op.ID, fmt.Sprintf("Unknown command /%s. /help lists what I understand.", name))
		return
	}
	if cmd.adminOnly && !op.IsAdmin() {
		d.notifier.Notify(op.ID, "That one is admin-only.")
		return
	}

	req := &request{op: op, args: args}
	if cmd.needsDevice && !d.resolveTargets(ctx, cmd, req) {
		return // refused, or parked behind a selection keyboard
	}

	d.execute(ctx, cmd, req)
}

// execute applies the gate and runs the handler. Shared by the direct
// path and the device-selection callback path.
func (d *Dispatcher) execute(ctx context.Context, cmd *command, req *request) {
	if cmd.gated {
		if err := d.gate.TryAcquire(req.op.ID, cmd.name); err != nil {
			var cooldown *guard.CooldownActiveError
			switch {
			case errors.As(err, &cooldown):
				d.notifier.Notify(req.op.ID, fmt.Sprintf(
					"⏳ Easy. /%s again in %.0f seconds.", cmd.name, cooldown.Remaining.Seconds()))
			case errors.Is(err, guard.ErrAlreadyRunning):
				d.notifier.Notify(req.op.ID, fmt.Sprintf(
					"Still working on your last /%s.", cmd.name))
			default:
				d.logger.Error("gate refusal", "command", cmd.name, "error", err)
			}
			return
		}
		defer d.gate.Release(req.op.ID, cmd.name)
	}

	if err := cmd.handler(ctx, req); err != nil {
		d.logger.Error("command failed",
			"command", cmd.name, "operator_id", req.op.ID, "error", err)
		d.notifier.Notify(req.op.ID, "⚠️ That went wrong on my side. Try again in a moment.")
	}
}

// resolveTargets fills req.deviceIDs. Returns false when the command
// cannot proceed yet: no devices, or a selection keyboard was sent.
//
// The gate is deliberately not held here; a parked selection must not
// start the command's cooldown.
func (d *Dispatcher) resolveTargets(ctx context.Context, cmd *command, req *request) bool {
	ids := req.op.DeviceIDs
	if len(ids) == 0 {
		d.notifier.Notify(req.op.ID, "You have no devices linked. Ask an admin for an invite.")
		return false
	}

	// Explicit target by ID or name prefix.
	if len(req.args) > 0 {
		if target := d.matchDevice(ctx, ids, req.args[0]); target != "" {
			req.deviceIDs = []string{target}
			req.args = req.args[1:]
			return true
		}
	}

	if len(ids) == 1 {
		req.deviceIDs = []string{ids[0]}
		return true
	}

	// Several devices: park the command behind a selection keyboard.
	_, err := d.pendings.Create(req.op.ID, pending.KindDeviceSelection, ids, map[string]any{
		"command": cmd.name,
		"args":    strings.Join(req.args, " "),
	}, d.cfg.SelectionTTL)
	if err != nil {
		d.logger.Error("parking device selection", "error", err)
		return false
	}

	rows := make([][]chat.Button, 0, len(ids)+1)
	for _, id := range ids {
		rows = append(rows, chat.Row(chat.Button{
			Label: d.deviceName(ctx, id),
			Data:  "sel:" + id,
		}))
	}
	rows = append(rows, chat.Row(chat.Button{Label: "All of them", Data: "sel:all"}))

	if err := d.transport.SendKeyboard(req.op.ID,
		fmt.Sprintf("Which device for /%s?", cmd.name), rows...); err != nil {
		d.logger.Error("sending selection keyboard", "error", err)
	}
	return false
}

// matchDevice resolves an argument against the operator's devices by
// exact ID or case-insensitive name prefix.
func (d *Dispatcher) matchDevice(ctx context.Context, ids []string, arg string) string {
	lowered := strings.ToLower(arg)
	for _, id := range ids {
		if id == arg {
			return id
		}
		dev, err := d.devices.Get(ctx, id)
		if err != nil {
			continue
		}
		if strings.HasPrefix(strings.ToLower(dev.Name), lowered) {
			return id
		}
	}
	return ""
}

// deviceName resolves a display name, falling back to the ID.
func (d *Dispatcher) deviceName(ctx context.Context, id string) string {
	dev, err := d.devices.Get(ctx, id)
	if err != nil || dev.Name == "" {
		return id
	}
	return dev.Name
}

// handleStranger deals with senders who are not enrolled operators.
// The only verbs they get are /start <code> and /join <code>.
func (d *Dispatcher) handleStranger(ctx context.Context, msg chat.Message, name string, args []string) {
	if (name != "start" && name != "join") || len(args) == 0 {
		d.notifier.Notify(msg.OperatorID,
			"This alarm system is invite-only. Got a code? Send /join <code>.")
		return
	}

	req, err := d.enroll.Redeem(ctx, msg.OperatorID, msg.DisplayName, args[0])
	switch {
	case errors.Is(err, enroll.ErrInvalidInvite):
		d.notifier.Notify(msg.OperatorID, "That code isn't valid.")
		return
	case errors.Is(err, enroll.ErrInviteUsed):
		d.notifier.Notify(msg.OperatorID, "That code has already been used.")
		return
	case errors.Is(err, enroll.ErrRequestExists):
		d.notifier.Notify(msg.OperatorID, "Your request is already with the admins. Hang tight.")
		return
	case err != nil:
		d.logger.Error("redeeming invite", "identity", msg.OperatorID, "error", err)
		d.notifier.Notify(msg.OperatorID, "⚠️ Something broke. Try again in a moment.")
		return
	}

	d.notifier.Notify(msg.OperatorID,
		"Request received. An admin has to wave you through; you'll hear from me.")
	d.askAdmins(ctx, req)
}

// askAdmins puts an approval prompt in front of every active admin.
func (d *Dispatcher) askAdmins(ctx context.Context, req *enroll.JoinRequest) {
	ops, err := d.operators.List(ctx)
	if err != nil {
		d.logger.Error("listing admins for join request", "error", err)
		return
	}

	text := fmt.Sprintf("🔑 %s (%s) wants to join for %s.",
		req.DisplayName, req.Identity, d.deviceName(ctx, req.DeviceID))
	rows := []([]chat.Button){chat.Row(
		chat.Button{Label: "Approve", Data: "approve:" + req.Identity},
		chat.Button{Label: "Deny", Data: "deny:" + req.Identity},
	)}

	for _, op := range ops {
		if !op.IsAdmin() || !op.IsActive {
			continue
		}
		if _, err := d.pendings.Create(op.ID, pending.KindJoinApproval, nil, map[string]any{
			"identity": req.Identity,
		}, 0); err != nil {
			d.logger.Error("creating join approval prompt", "error", err)
			continue
		}
		if err := d.transport.SendKeyboard(op.ID, text, rows...); err != nil {
			d.logger.Error("sending join approval keyboard",
				"operator_id", op.ID, "error", err)
		}
	}
}

// parseCommand splits "/cmd@bot arg arg" into name and args.
// Returns an empty name for non-command text.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}
