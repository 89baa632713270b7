package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockPublisher captures published payloads keyed by topic.
type mockPublisher struct {
	mu        sync.Mutex
	published []publishedMsg
	failWith  error
}

type publishedMsg struct {
	topic   string
	payload []byte
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.published = append(m.published, publishedMsg{topic: topic, payload: payload})
	return nil
}

// tokenFor extracts the command token published for the given topic,
// polling briefly because Send runs in a separate goroutine.
func (m *mockPublisher) tokenFor(t *testing.T, topic string) string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		for _, msg := range m.published {
			if msg.topic == topic {
				var fields map[string]any
				if err := json.Unmarshal(msg.payload, &fields); err != nil {
					m.mu.Unlock()
					t.Fatalf("published payload is not JSON: %v", err)
				}
				m.mu.Unlock()
				token, _ := fields["token"].(string)
				return token
			}
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no message published to %s", topic)
	return ""
}

// ─── Batch Send ───

func TestSend_RepliesCorrelatedByToken(t *testing.T) {
	pub := &mockPublisher{}
	tracker := NewTracker(pub, 1)

	resultsCh := make(chan []Result, 1)
	go func() {
		results, err := tracker.Send(context.Background(),
			[]string{"alarm-1", "alarm-2"}, "arm", nil, time.Second)
		if err != nil {
			t.Errorf("Send() error = %v", err)
		}
		resultsCh <- results
	}()

	for _, id := range []string{"alarm-1", "alarm-2"} {
		token := pub.tokenFor(t, "vigil/command/"+id)
		reply := fmt.Sprintf(`{"token":%q,"status":"ok"}`, token)
		if err := tracker.HandleReply(id, []byte(reply)); err != nil {
			t.Fatalf("HandleReply(%s) error = %v", id, err)
		}
	}

	results := <-resultsCh
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("device %s: unexpected error %v", res.DeviceID, res.Err)
		}
		if res.Reply == nil || !res.Reply.OK() {
			t.Errorf("device %s: reply not ok: %+v", res.DeviceID, res.Reply)
		}
	}
	if results[0].DeviceID != "alarm-1" || results[1].DeviceID != "alarm-2" {
		t.Error("results should preserve batch order")
	}
}

func TestSend_PartialBatchReportsUnresponsive(t *testing.T) {
	pub := &mockPublisher{}
	tracker := NewTracker(pub, 1)

	resultsCh := make(chan []Result, 1)
	go func() {
		results, _ := tracker.Send(context.Background(),
			[]string{"alarm-1", "alarm-2"}, "disarm", nil, 50*time.Millisecond)
		resultsCh <- results
	}()

	// Only alarm-1 replies; alarm-2 stays silent.
	token := pub.tokenFor(t, "vigil/command/alarm-1")
	reply := fmt.Sprintf(`{"token":%q,"status":"ok"}`, token)
	if err := tracker.HandleReply("alarm-1", []byte(reply)); err != nil {
		t.Fatalf("HandleReply() error = %v", err)
	}

	results := <-resultsCh
	if results[0].Err != nil {
		t.Errorf("alarm-1 should have a reply, got error %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrUnresponsive) {
		t.Errorf("alarm-2 error = %v, want ErrUnresponsive", results[1].Err)
	}
	if results[1].Reply != nil {
		t.Error("unresponsive device must have no reply")
	}
}

func TestSend_EmptyBatch(t *testing.T) {
	tracker := NewTracker(&mockPublisher{}, 1)

	if _, err := tracker.Send(context.Background(), nil, "arm", nil, time.Second); !errors.Is(err, ErrNoDevices) {
		t.Errorf("Send(empty) error = %v, want ErrNoDevices", err)
	}
}

func TestSend_PublishFailure(t *testing.T) {
	pub := &mockPublisher{failWith: errors.New("broker down")}
	tracker := NewTracker(pub, 1)

	results, err := tracker.Send(context.Background(),
		[]string{"alarm-1"}, "arm", nil, time.Second)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !errors.Is(results[0].Err, ErrPublishFailed) {
		t.Errorf("result error = %v, want ErrPublishFailed", results[0].Err)
	}
	if tracker.Pending() != 0 {
		t.Errorf("Pending() = %d after publish failure, want 0", tracker.Pending())
	}
}

func TestSend_ContextCancellation(t *testing.T) {
	pub := &mockPublisher{}
	tracker := NewTracker(pub, 1)

	ctx, cancel := context.WithCancel(context.Background())
	resultsCh := make(chan []Result, 1)
	go func() {
		results, _ := tracker.Send(ctx, []string{"alarm-1"}, "arm", nil, 5*time.Second)
		resultsCh <- results
	}()

	pub.tokenFor(t, "vigil/command/alarm-1") // ensure command is in flight
	cancel()

	results := <-resultsCh
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("result error = %v, want context.Canceled", results[0].Err)
	}
}

func TestSend_ArgsIncludedInPayload(t *testing.T) {
	pub := &mockPublisher{}
	tracker := NewTracker(pub, 1)

	go func() {
		_, _ = tracker.Send(context.Background(), []string{"alarm-1"},
			"set_mode", map[string]any{"mode": "ask"}, 50*time.Millisecond)
	}()

	pub.tokenFor(t, "vigil/command/alarm-1")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var fields map[string]any
	if err := json.Unmarshal(pub.published[0].payload, &fields); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if fields["cmd"] != "set_mode" {
		t.Errorf("cmd = %v, want set_mode", fields["cmd"])
	}
	if fields["mode"] != "ask" {
		t.Errorf("mode = %v, want ask", fields["mode"])
	}
}

// ─── Reply Handling ───

func TestHandleReply_UnknownTokenDiscarded(t *testing.T) {
	tracker := NewTracker(&mockPublisher{}, 1)

	if err := tracker.HandleReply("alarm-1", []byte(`{"token":"stale","status":"ok"}`)); err != nil {
		t.Errorf("HandleReply(unknown token) = %v, want nil", err)
	}
}

func TestHandleReply_Malformed(t *testing.T) {
	tracker := NewTracker(&mockPublisher{}, 1)

	tests := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{not json`},
		{"missing token", `{"status":"ok"}`},
		{"empty token", `{"token":"","status":"ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tracker.HandleReply("alarm-1", []byte(tt.payload))
			if !errors.Is(err, ErrMalformedReply) {
				t.Errorf("HandleReply() = %v, want ErrMalformedReply", err)
			}
		})
	}
}

func TestHandleReply_LateReplyAfterTimeout(t *testing.T) {
	pub := &mockPublisher{}
	tracker := NewTracker(pub, 1)

	results, _ := tracker.Send(context.Background(),
		[]string{"alarm-1"}, "arm", nil, 10*time.Millisecond)
	if !errors.Is(results[0].Err, ErrUnresponsive) {
		t.Fatalf("result error = %v, want ErrUnresponsive", results[0].Err)
	}

	// A reply arriving after the window has closed is silently dropped.
	reply := fmt.Sprintf(`{"token":%q,"status":"ok"}`, results[0].Token)
	if err := tracker.HandleReply("alarm-1", []byte(reply)); err != nil {
		t.Errorf("late HandleReply() = %v, want nil", err)
	}
	if tracker.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tracker.Pending())
	}
}

func TestReply_StatusFields(t *testing.T) {
	pub := &mockPublisher{}
	tracker := NewTracker(pub, 1)

	resultsCh := make(chan []Result, 1)
	go func() {
		results, _ := tracker.Send(context.Background(),
			[]string{"alarm-1"}, "trigger_alarm", nil, time.Second)
		resultsCh <- results
	}()

	token := pub.tokenFor(t, "vigil/command/alarm-1")
	reply := fmt.Sprintf(`{"token":%q,"status":"error","detail":"siren fault","rssi":-71}`, token)
	if err := tracker.HandleReply("alarm-1", []byte(reply)); err != nil {
		t.Fatalf("HandleReply() error = %v", err)
	}

	res := (<-resultsCh)[0]
	if res.Reply == nil {
		t.Fatal("expected a reply")
	}
	if res.Reply.OK() {
		t.Error("OK() = true for error status")
	}
	if res.Reply.Detail != "siren fault" {
		t.Errorf("Detail = %q, want %q", res.Reply.Detail, "siren fault")
	}
	if _, ok := res.Reply.Fields["rssi"]; !ok {
		t.Error("extra fields should be preserved in Fields")
	}
}
