package dispatch

import (
	"context"
	"strings"

	"github.com/nerrad567/vigil-core/internal/chat"
	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/operator"
	"github.com/nerrad567/vigil-core/internal/pending"
)

// HandleCallback routes an inline keyboard tap. Data is "verb:value":
// sel for device selection, mode for bengala mode, approve/deny for
// join requests.
func (d *Dispatcher) HandleCallback(ctx context.Context, cb chat.Callback) {
	verb, value, ok := strings.Cut(cb.Data, ":")
	if !ok {
		d.logger.Debug("malformed callback data", "data", cb.Data)
		return
	}

	op, err := d.operators.GetByID(ctx, cb.OperatorID)
	if err != nil || !op.IsActive {
		return
	}

	switch verb {
	case "sel":
		d.callbackSelection(ctx, op, value)
	case "mode":
		d.callbackMode(ctx, op, value)
	case "approve", "deny":
		d.callbackJoin(ctx, op, verb, value)
	default:
		d.logger.Debug("unknown callback verb", "verb", verb)
	}
}

// callbackSelection resumes a command parked behind a device keyboard.
// The gate is applied here, via execute, not when the keyboard went out.
func (d *Dispatcher) callbackSelection(ctx context.Context, op *operator.Operator, choice string) {
	action, err := d.pendings.Confirm(op.ID, pending.KindDeviceSelection)
	if err != nil {
		d.notifier.Notify(op.ID, "That choice has expired. Send the command again.")
		return
	}

	var targets []string
	if choice == "all" {
		targets = action.DeviceIDs
	} else {
		for _, id := range action.DeviceIDs {
			if id == choice {
				targets = []string{id}
				break
			}
		}
		if targets == nil {
			d.logger.Warn("selection outside offered set",
				"operator_id", op.ID, "choice", choice)
			return
		}
	}

	name, _ := action.Payload["command"].(string)
	cmd, ok := d.commands[name]
	if !ok {
		d.logger.Error("parked command no longer registered", "command", name)
		return
	}

	req := &request{op: op, deviceIDs: targets}
	if joined, _ := action.Payload["args"].(string); joined != "" {
		req.args = strings.Fields(joined)
	}
	d.execute(ctx, cmd, req)
}

// callbackMode applies a bengala mode picked from the keyboard.
func (d *Dispatcher) callbackMode(ctx context.Context, op *operator.Operator, value string) {
	action, err := d.pendings.Confirm(op.ID, pending.KindBengalaModeChoice)
	if err != nil {
		d.notifier.Notify(op.ID, "That choice has expired. Send /mode again.")
		return
	}

	mode := device.BengalaMode(value)
	if !device.IsValidBengalaMode(mode) || len(action.DeviceIDs) == 0 {
		d.logger.Warn("bad mode callback", "value", value)
		return
	}

	if err := d.applyMode(ctx, op, action.DeviceIDs[0], mode); err != nil {
		d.logger.Error("applying mode from callback", "error", err)
		d.notifier.Notify(op.ID, "⚠️ That went wrong on my side. Try again in a moment.")
	}
}

// callbackJoin resolves an approve/deny tap. Other admins' copies of
// the same prompt become stale; the first decision wins and the rest
// get told it is already handled.
func (d *Dispatcher) callbackJoin(ctx context.Context, op *operator.Operator, verb, identity string) {
	if !op.IsAdmin() {
		return
	}
	if _, err := d.pendings.Confirm(op.ID, pending.KindJoinApproval); err != nil {
		d.notifier.Notify(op.ID, "That request is no longer pending.")
		return
	}

	var err error
	if verb == "approve" {
		err = d.finishApproval(ctx, op, identity)
	} else {
		req := &request{op: op, args: []string{identity}}
		err = d.cmdDeny(ctx, req)
	}
	if err != nil {
		d.logger.Error("resolving join request", "verb", verb, "error", err)
		d.notifier.Notify(op.ID, "⚠️ That went wrong on my side. Try again in a moment.")
	}
}
