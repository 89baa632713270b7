package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/vigil-core/internal/bengala"
	"github.com/nerrad567/vigil-core/internal/chat"
	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/enroll"
	"github.com/nerrad567/vigil-core/internal/operator"
	"github.com/nerrad567/vigil-core/internal/pending"
	"github.com/nerrad567/vigil-core/internal/schedule"
)

// cmdArm handles /on: arm every target and report per device.
func (d *Dispatcher) cmdArm(ctx context.Context, req *request) error {
	return d.setArmed(ctx, req, true)
}

// cmdDisarm handles /off.
func (d *Dispatcher) cmdDisarm(ctx context.Context, req *request) error {
	return d.setArmed(ctx, req, false)
}

func (d *Dispatcher) setArmed(ctx context.Context, req *request, armed bool) error {
	kind, verb, eventKind := "disarm", "disarmed", "disarmed"
	if armed {
		kind, verb, eventKind = "arm", "armed", "armed"
	}

	results, err := d.commander.Send(ctx, req.deviceIDs, kind, nil, d.cfg.Wait)
	if err != nil {
		return err
	}

	var lines []string
	for _, res := range results {
		name := d.deviceName(ctx, res.DeviceID)
		switch {
		case res.Err != nil:
			lines = append(lines, fmt.Sprintf("⚠️ %s did not answer.", name))
		case !res.Reply.OK():
			lines = append(lines, fmt.Sprintf("✖ %s refused: %s", name, res.Reply.Detail))
		default:
			if err := d.devices.SetArmed(ctx, res.DeviceID, armed); err != nil {
				d.logger.Error("recording armed state",
					"device_id", res.DeviceID, "error", err)
			}
			d.notifier.Record(ctx, eventKind, req.op.ID, res.DeviceID, "")
			lines = append(lines, fmt.Sprintf("✔ %s %s.", name, verb))
		}
	}
	d.notifier.Notify(req.op.ID, strings.Join(lines, "\n"))
	return nil
}

// cmdStatus handles /status: render every linked device from the cache.
func (d *Dispatcher) cmdStatus(ctx context.Context, req *request) error {
	if len(req.op.DeviceIDs) == 0 {
		d.notifier.Notify(req.op.ID, "You have no devices linked.")
		return nil
	}

	var lines []string
	for _, id := range req.op.DeviceIDs {
		dev, err := d.devices.Get(ctx, id)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: unknown", id))
			continue
		}
		lines = append(lines, renderStatus(dev))
	}
	d.notifier.Notify(req.op.ID, strings.Join(lines, "\n"))
	return nil
}

// cmdTrigger handles /trigger: open a confirmation prompt; the siren
// only sounds on /confirm.
func (d *Dispatcher) cmdTrigger(ctx context.Context, req *request) error {
	if _, err := d.pendings.Create(req.op.ID, pending.KindTriggerConfirm,
		req.deviceIDs, nil, d.cfg.ConfirmTTL); err != nil {
		return err
	}
	d.notifier.Notify(req.op.ID, fmt.Sprintf(
		"🚨 Sound the siren on %s? /confirm or /cancel",
		d.targetNames(ctx, req.deviceIDs)))
	return nil
}

// cmdBengala handles /bengala: open a flare confirmation prompt.
func (d *Dispatcher) cmdBengala(ctx context.Context, req *request) error {
	if _, err := d.pendings.Create(req.op.ID, pending.KindBengalaConfirm,
		req.deviceIDs, nil, d.cfg.ConfirmTTL); err != nil {
		return err
	}
	d.notifier.Notify(req.op.ID, fmt.Sprintf(
		"🧨 Fire the bengala on %s? /confirm or /cancel",
		d.targetNames(ctx, req.deviceIDs)))
	return nil
}

// cmdConfirm handles /confirm: resolve the operator's newest awaiting
// prompt. With nothing awaiting it falls through to the bengala direct
// path (fire on whatever of mine is alarming).
func (d *Dispatcher) cmdConfirm(ctx context.Context, req *request) error {
	action, err := d.pendings.GetAny(req.op.ID)
	if err != nil {
		return d.confirmBengala(ctx, req)
	}

	switch action.Kind {
	case pending.KindTriggerConfirm:
		confirmed, err := d.pendings.Confirm(req.op.ID, action.Kind)
		if err != nil {
			d.notifier.Notify(req.op.ID, "That prompt is gone.")
			return nil
		}
		return d.fireSiren(ctx, req, confirmed.DeviceIDs)

	case pending.KindBengalaConfirm:
		return d.confirmBengala(ctx, req)

	case pending.KindUnlinkConfirm:
		confirmed, err := d.pendings.Confirm(req.op.ID, action.Kind)
		if err != nil {
			d.notifier.Notify(req.op.ID, "That prompt is gone.")
			return nil
		}
		return d.finishUnlink(ctx, req, confirmed.DeviceIDs[0])

	case pending.KindJoinApproval:
		identity, _ := action.Payload["identity"].(string)
		if _, err := d.pendings.Confirm(req.op.ID, action.Kind); err != nil {
			return nil
		}
		return d.finishApproval(ctx, req.op, identity)

	default:
		// Selection and mode prompts answer via their keyboards.
		d.notifier.Notify(req.op.ID, "Use the buttons above for that one.")
		return nil
	}
}

// confirmBengala routes through the coordinator, which also covers the
// nothing-pending direct path.
func (d *Dispatcher) confirmBengala(ctx context.Context, req *request) error {
	fired, err := d.bengala.Confirm(ctx, req.op.ID)
	if errors.Is(err, bengala.ErrNothingToFire) {
		d.notifier.Notify(req.op.ID, "Nothing pending to confirm, and nothing of yours is alarming.")
		return nil
	}
	if err != nil {
		return err
	}

	d.notifier.Notify(req.op.ID, fmt.Sprintf(
		"🧨 Bengala fired on %s.", d.targetNames(ctx, fired)))
	for _, id := range fired {
		d.notifier.Record(ctx, "bengala_fired", req.op.ID, id, "")
	}
	return nil
}

// fireSiren sends trigger_alarm with the extended wait window.
func (d *Dispatcher) fireSiren(ctx context.Context, req *request, deviceIDs []string) error {
	results, err := d.commander.Send(ctx, deviceIDs, "trigger_alarm", nil, d.cfg.ExtendedWait)
	if err != nil {
		return err
	}

	var lines []string
	for _, res := range results {
		name := d.deviceName(ctx, res.DeviceID)
		if res.Err != nil || !res.Reply.OK() {
			lines = append(lines, fmt.Sprintf("⚠️ %s did not sound.", name))
			continue
		}
		d.notifier.Record(ctx, "alarm_triggered", req.op.ID, res.DeviceID, "manual trigger")
		lines = append(lines, fmt.Sprintf("🚨 %s siren sounding.", name))
	}
	d.notifier.Notify(req.op.ID, strings.Join(lines, "\n"))
	return nil
}

// cmdCancel handles /cancel: dismiss everything the operator has pending.
func (d *Dispatcher) cmdCancel(ctx context.Context, req *request) error {
	cancelled := d.pendings.CancelAll(req.op.ID)
	if len(cancelled) == 0 {
		d.notifier.Notify(req.op.ID, "Nothing to cancel.")
		return nil
	}
	d.notifier.Notify(req.op.ID, fmt.Sprintf(
		"Cancelled %d pending prompt(s).", len(cancelled)))
	return nil
}

// cmdMode handles /mode: set the bengala mode directly from an argument
// or offer the three choices as a keyboard.
func (d *Dispatcher) cmdMode(ctx context.Context, req *request) error {
	deviceID := req.deviceIDs[0]

	if len(req.args) > 0 {
		mode := device.BengalaMode(strings.ToLower(req.args[0]))
		if !device.IsValidBengalaMode(mode) {
			d.notifier.Notify(req.op.ID, "Modes: auto, ask, disabled.")
			return nil
		}
		return d.applyMode(ctx, req.op, deviceID, mode)
	}

	if _, err := d.pendings.Create(req.op.ID, pending.KindBengalaModeChoice,
		[]string{deviceID}, nil, d.cfg.SelectionTTL); err != nil {
		return err
	}
	return d.transport.SendKeyboard(req.op.ID,
		fmt.Sprintf("Bengala mode for %s?", d.deviceName(ctx, deviceID)),
		chat.Row(
			chat.Button{Label: "Auto", Data: "mode:auto"},
			chat.Button{Label: "Ask first", Data: "mode:ask"},
			chat.Button{Label: "Disabled", Data: "mode:disabled"},
		))
}

func (d *Dispatcher) applyMode(ctx context.Context, op *operator.Operator, deviceID string, mode device.BengalaMode) error {
	if err := d.bengala.SetMode(ctx, deviceID, mode); err != nil {
		return err
	}
	d.notifier.Record(ctx, "mode_changed", op.ID, deviceID, string(mode))
	d.notifier.Notify(op.ID, fmt.Sprintf(
		"Bengala mode on %s is now %s.", d.deviceName(ctx, deviceID), mode))
	return nil
}

// cmdSchedule handles /schedule: show, disable or set the arm schedule.
//
//	/schedule                 show
//	/schedule off             disable
//	/schedule 22:30 07:00     arm and disarm times
//	/schedule 22:30 07:00 15  with a 15-minute advance warning
func (d *Dispatcher) cmdSchedule(ctx context.Context, req *request) error {
	deviceID := req.deviceIDs[0]
	name := d.deviceName(ctx, deviceID)

	if len(req.args) == 0 {
		sched, err := d.schedules.Get(ctx, deviceID)
		if errors.Is(err, schedule.ErrNotFound) {
			d.notifier.Notify(req.op.ID, fmt.Sprintf("%s has no schedule.", name))
			return nil
		}
		if err != nil {
			return err
		}
		d.notifier.Notify(req.op.ID, renderSchedule(name, sched))
		return nil
	}

	if strings.EqualFold(req.args[0], "off") {
		sched, err := d.schedules.Get(ctx, deviceID)
		if errors.Is(err, schedule.ErrNotFound) {
			d.notifier.Notify(req.op.ID, fmt.Sprintf("%s has no schedule.", name))
			return nil
		}
		if err != nil {
			return err
		}
		sched.Enabled = false
		if err := d.schedules.Apply(ctx, sched); err != nil {
			return err
		}
		d.notifier.Record(ctx, "schedule_changed", req.op.ID, deviceID, "disabled")
		d.notifier.Notify(req.op.ID, fmt.Sprintf("Schedule on %s is off.", name))
		return nil
	}

	if len(req.args) < 2 {
		d.notifier.Notify(req.op.ID, "Usage: /schedule HH:MM HH:MM [warn-minutes], or /schedule off.")
		return nil
	}

	sched := &schedule.Schedule{
		DeviceID:   deviceID,
		Enabled:    true,
		ArmTime:    req.args[0],
		DisarmTime: req.args[1],
		DaysMask:   schedule.AllDays,
	}
	if len(req.args) > 2 {
		mins, err := strconv.Atoi(req.args[2])
		if err != nil || mins < 0 {
			d.notifier.Notify(req.op.ID, "Warn-minutes must be a number.")
			return nil
		}
		sched.NotifyBeforeMinutes = mins
	}

	if err := d.schedules.Apply(ctx, sched); err != nil {
		if errors.Is(err, schedule.ErrInvalidTime) {
			d.notifier.Notify(req.op.ID, "Times are HH:MM, e.g. /schedule 22:30 07:00.")
			return nil
		}
		return err
	}
	d.notifier.Record(ctx, "schedule_changed", req.op.ID, deviceID,
		fmt.Sprintf("arm %s disarm %s", sched.ArmTime, sched.DisarmTime))
	d.notifier.Notify(req.op.ID, renderSchedule(name, sched))
	return nil
}

// cmdUnlink handles /unlink: confirmation first, the link survives
// until /confirm.
func (d *Dispatcher) cmdUnlink(ctx context.Context, req *request) error {
	deviceID := req.deviceIDs[0]
	if _, err := d.pendings.Create(req.op.ID, pending.KindUnlinkConfirm,
		[]string{deviceID}, nil, d.cfg.ConfirmTTL); err != nil {
		return err
	}
	d.notifier.Notify(req.op.ID, fmt.Sprintf(
		"Unlink %s from you? You'll stop receiving its alerts. /confirm or /cancel",
		d.deviceName(ctx, deviceID)))
	return nil
}

func (d *Dispatcher) finishUnlink(ctx context.Context, req *request, deviceID string) error {
	if err := d.operators.UnlinkDevice(ctx, req.op.ID, deviceID); err != nil {
		return err
	}
	d.notifier.Record(ctx, "unlinked", req.op.ID, deviceID, "")
	d.notifier.Notify(req.op.ID, fmt.Sprintf(
		"%s unlinked.", d.deviceName(ctx, deviceID)))
	return nil
}

// cmdInvite handles /invite (admin): mint a code and hand back a QR
// plus deep link.
func (d *Dispatcher) cmdInvite(ctx context.Context, req *request) error {
	deviceID := req.deviceIDs[0]

	inv, err := d.enroll.IssueInvite(ctx, deviceID, req.op.ID)
	if err != nil {
		return err
	}
	d.notifier.Record(ctx, "invite_issued", req.op.ID, deviceID, inv.Code)

	caption := fmt.Sprintf("Invite for %s — single use.\n%s",
		d.deviceName(ctx, deviceID), d.enroll.DeepLink(inv.Code))

	png, err := d.enroll.QRCode(inv.Code)
	if err != nil {
		d.logger.Warn("invite QR generation failed", "error", err)
		d.notifier.Notify(req.op.ID, caption)
		return nil
	}
	if err := d.transport.SendPhoto(req.op.ID, caption, png); err != nil {
		d.logger.Warn("invite photo send failed", "error", err)
		d.notifier.Notify(req.op.ID, caption)
	}
	return nil
}

// cmdApprove handles /approve <identity> (admin).
func (d *Dispatcher) cmdApprove(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		d.notifier.Notify(req.op.ID, "Usage: /approve <identity>.")
		return nil
	}
	return d.finishApproval(ctx, req.op, req.args[0])
}

func (d *Dispatcher) finishApproval(ctx context.Context, op *operator.Operator, identity string) error {
	joined, err := d.enroll.Approve(ctx, identity)
	if errors.Is(err, enroll.ErrNoJoinRequest) {
		d.notifier.Notify(op.ID, "No such join request; maybe another admin got there first.")
		return nil
	}
	if err != nil {
		return err
	}

	d.notifier.Record(ctx, "join_approved", op.ID, joined.DeviceID, identity)
	d.notifier.Notify(op.ID, fmt.Sprintf("%s is in.", joined.DisplayName))
	d.notifier.Notify(identity, fmt.Sprintf(
		"✅ You're in. %s is yours to watch now; /help shows the ropes.",
		d.deviceName(ctx, joined.DeviceID)))
	return nil
}

// cmdDeny handles /deny <identity> (admin).
func (d *Dispatcher) cmdDeny(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		d.notifier.Notify(req.op.ID, "Usage: /deny <identity>.")
		return nil
	}

	denied, err := d.enroll.Deny(ctx, req.args[0])
	if errors.Is(err, enroll.ErrNoJoinRequest) {
		d.notifier.Notify(req.op.ID, "No such join request.")
		return nil
	}
	if err != nil {
		return err
	}

	d.notifier.Record(ctx, "join_denied", req.op.ID, denied.DeviceID, denied.Identity)
	d.notifier.Notify(req.op.ID, fmt.Sprintf("%s denied.", denied.DisplayName))
	d.notifier.Notify(denied.Identity, "Your join request was declined.")
	return nil
}

// cmdHelp handles /help and /start for enrolled operators.
func (d *Dispatcher) cmdHelp(ctx context.Context, req *request) error {
	var b strings.Builder
	b.WriteString("I watch your alarms. Commands:\n")
	for _, name := range d.order {
		cmd := d.commands[name]
		if cmd.adminOnly && !req.op.IsAdmin() {
			continue
		}
		if cmd.name == "start" {
			continue
		}
		fmt.Fprintf(&b, "/%s — %s\n", cmd.name, cmd.help)
	}
	d.notifier.Notify(req.op.ID, b.String())
	return nil
}

// targetNames renders a comma-joined list of device names.
func (d *Dispatcher) targetNames(ctx context.Context, ids []string) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = d.deviceName(ctx, id)
	}
	return strings.Join(names, ", ")
}
