package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/vigil-core/internal/infrastructure/mqtt"
)

// Publisher hands outbound command payloads to the device bus.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the minimal logging interface the tracker needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Reply is a decoded controller reply.
type Reply struct {
	Token  string         `json:"token"`
	Status string         `json:"status"`
	Detail string         `json:"detail,omitempty"`
	Fields map[string]any `json:"-"`
}

// OK reports whether the controller accepted the command.
func (r *Reply) OK() bool {
	return r.Status == "ok"
}

// Result is the per-device outcome of a batch send.
//
// Exactly one of Reply and Err is set: Err is ErrUnresponsive when the
// wait window closed without a reply, or ErrPublishFailed (wrapped) when
// the command never left the bridge.
type Result struct {
	DeviceID string
	Token    string
	Reply    *Reply
	Err      error
}

// Tracker correlates command tokens with controller replies.
type Tracker struct {
	publisher Publisher
	qos       byte
	logger    Logger

	mu      sync.Mutex
	waiters map[string]chan *Reply
}

// NewTracker creates a tracker publishing at the given QoS.
func NewTracker(publisher Publisher, qos byte) *Tracker {
	return &Tracker{
		publisher: publisher,
		qos:       qos,
		logger:    noopLogger{},
		waiters:   make(map[string]chan *Reply),
	}
}

// SetLogger attaches a logger. Passing nil restores the no-op logger.
func (t *Tracker) SetLogger(l Logger) {
	if l == nil {
		t.logger = noopLogger{}
		return
	}
	t.logger = l
}

// Send publishes kind (plus args) to every device in the batch and waits
// up to timeout for each reply. It returns one Result per device, in the
// same order as deviceIDs, once every device has replied or timed out.
//
// Parameters:
//   - ctx: cancels all outstanding waits early (affected devices report
//     ctx.Err())
//   - deviceIDs: batch to address; must be non-empty
//   - kind: command name the controller dispatches on
//   - args: optional command arguments merged into the payload
//   - timeout: per-device wait window
func (t *Tracker) Send(ctx context.Context, deviceIDs []string, kind string, args map[string]any, timeout time.Duration) ([]Result, error) {
	if len(deviceIDs) == 0 {
		return nil, ErrNoDevices
	}

	results := make([]Result, len(deviceIDs))
	var wg sync.WaitGroup

	for i, deviceID := range deviceIDs {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			results[idx] = t.sendOne(ctx, id, kind, args, timeout)
		}(i, deviceID)
	}
	wg.Wait()

	return results, nil
}

// sendOne issues a single tokenised command and waits for its reply.
func (t *Tracker) sendOne(ctx context.Context, deviceID, kind string, args map[string]any, timeout time.Duration) Result {
	token := uuid.NewString()
	res := Result{DeviceID: deviceID, Token: token}

	payload := make(map[string]any, len(args)+2)
	for k, v := range args {
		payload[k] = v
	}
	payload["cmd"] = kind
	payload["token"] = token

	data, err := json.Marshal(payload)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrPublishFailed, err)
		return res
	}

	ch := make(chan *Reply, 1)
	t.mu.Lock()
	t.waiters[token] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.waiters, token)
		t.mu.Unlock()
	}()

	if err := t.publisher.Publish(mqtt.Topics{}.DeviceCommand(deviceID), data, t.qos, false); err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrPublishFailed, err)
		return res
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		res.Reply = reply
	case <-timer.C:
		res.Err = ErrUnresponsive
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	return res
}

// HandleReply decodes a reply payload from a device's reply topic and
// routes it to the goroutine waiting on its token. Replies with unknown
// or expired tokens are logged and dropped.
func (t *Tracker) HandleReply(deviceID string, payload []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	token, _ := fields["token"].(string)
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrMalformedReply)
	}

	reply := &Reply{Token: token, Fields: fields}
	if s, ok := fields["status"].(string); ok {
		reply.Status = s
	}
	if d, ok := fields["detail"].(string); ok {
		reply.Detail = d
	}

	t.mu.Lock()
	ch, ok := t.waiters[token]
	if ok {
		delete(t.waiters, token)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("discarding reply with unknown token",
			"device_id", deviceID, "token", token)
		return nil
	}

	ch <- reply
	return nil
}

// Pending returns the number of commands currently awaiting replies.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
