package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"guestgreet/config"
	"guestgreet/internal/core/recognition"
)

type publishedMessage struct {
	topic   string
	payload interface{}
	retain  bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (f *fakePublisher) PublishJSON(topic string, payload any, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, publishedMessage{topic: topic, payload: payload, retain: retain})
	return nil
}

func strPtr(s string) *string { return &s }

func TestGreetingPublisherTopics(t *testing.T) {
	fake := &fakePublisher{}
	pub := NewGreetingPublisher(fake, "guestgreet/")

	pub.NotifyGreeting(recognition.Greeting{
		EventID:     7,
		IdentityID:  "c1",
		DisplayName: "Ann",
		Message:     "Welcome back, Ann!",
		Confidence:  0.91,
		CameraID:    strPtr("lobby-1"),
		OccurredAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	pub.NotifyGreeting(recognition.Greeting{IdentityID: "c2", DisplayName: "Ben"})
	pub.Close()

	if len(fake.messages) != 4 {
		t.Fatalf("published %d messages, want 4", len(fake.messages))
	}

	want := []publishedMessage{
		{topic: "guestgreet/greetings/lobby-1", retain: false},
		{topic: "guestgreet/identities/c1", retain: true},
		{topic: "guestgreet/greetings/unknown", retain: false},
		{topic: "guestgreet/identities/c2", retain: true},
	}
	for i, w := range want {
		if fake.messages[i].topic != w.topic || fake.messages[i].retain != w.retain {
			t.Errorf("message %d = %s (retain %v), want %s (retain %v)",
				i, fake.messages[i].topic, fake.messages[i].retain, w.topic, w.retain)
		}
	}

	body, err := json.Marshal(fake.messages[0].payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if !strings.Contains(string(body), `"customer_id":"c1"`) || !strings.Contains(string(body), `"greeting":"Welcome back, Ann!"`) {
		t.Errorf("unexpected payload %s", body)
	}
}

func TestGreetingPublisherIgnoresAfterClose(t *testing.T) {
	fake := &fakePublisher{}
	pub := NewGreetingPublisher(fake, "guestgreet")
	pub.Close()
	pub.Close()

	pub.NotifyGreeting(recognition.Greeting{IdentityID: "c1"})
	if len(fake.messages) != 0 {
		t.Errorf("published %d messages after close", len(fake.messages))
	}
}

func TestGreetingPublisherSanitizesCamera(t *testing.T) {
	pub := NewGreetingPublisher(&fakePublisher{}, "gg")
	defer pub.Close()

	if got := pub.GreetingTopic(topicSegment("floor/1#a")); got != "gg/greetings/floor_1_a" {
		t.Errorf("topic = %s", got)
	}
}

func embeddingPayload(t *testing.T, dims int, extra map[string]interface{}) []byte {
	t.Helper()
	msg := map[string]interface{}{"embedding": make([]float32, dims)}
	for k, v := range extra {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestParseEmbeddingMessage(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		payload    []byte
		wantErr    bool
		wantCamera string
		wantBranch string
	}{
		{"camera from topic", "guestgreet/embeddings/lobby-1", embeddingPayload(t, 512, nil), false, "lobby-1", ""},
		{"camera from payload", "guestgreet/embeddings/lobby-1", embeddingPayload(t, 512, map[string]interface{}{"camera_id": "spa"}), false, "spa", ""},
		{"blank camera falls back to topic", "guestgreet/embeddings/lobby-1", embeddingPayload(t, 512, map[string]interface{}{"camera_id": " "}), false, "lobby-1", ""},
		{"no camera", "guestgreet/embeddings", embeddingPayload(t, 128, nil), false, "", ""},
		{"branch", "guestgreet/embeddings/x", embeddingPayload(t, 512, map[string]interface{}{"branch_id": "north"}), false, "x", "north"},
		{"empty branch means all branches", "guestgreet/embeddings/x", embeddingPayload(t, 512, map[string]interface{}{"branch_id": ""}), false, "x", ""},
		{"too short", "guestgreet/embeddings/x", embeddingPayload(t, 64, nil), true, "", ""},
		{"bad threshold", "guestgreet/embeddings/x", embeddingPayload(t, 512, map[string]interface{}{"threshold": 1.5}), true, "", ""},
		{"invalid json", "guestgreet/embeddings/x", []byte("{"), true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseEmbeddingMessage(tt.topic, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got := ""
			if req.CameraID != nil {
				got = *req.CameraID
			}
			if got != tt.wantCamera {
				t.Errorf("camera = %q, want %q", got, tt.wantCamera)
			}
			switch {
			case tt.wantBranch == "" && req.BranchID != nil:
				t.Errorf("branch = %q, want none", *req.BranchID)
			case tt.wantBranch != "" && (req.BranchID == nil || *req.BranchID != tt.wantBranch):
				t.Errorf("branch = %v, want %q", req.BranchID, tt.wantBranch)
			}
		})
	}
}

type fakeRecognizer struct {
	mu       sync.Mutex
	requests []recognition.EmbeddingRequest
	err      error
	done     chan struct{}
}

func (f *fakeRecognizer) RecognizeFromEmbedding(ctx context.Context, req recognition.EmbeddingRequest) (*recognition.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &recognition.Result{Matched: false}, nil
}

func TestEmbeddingHandlerRunsRecognition(t *testing.T) {
	rec := &fakeRecognizer{}
	handler := NewEmbeddingHandler(rec, time.Second)

	handler.HandleMessage("guestgreet/embeddings/door", embeddingPayload(t, 512, map[string]interface{}{"branch_id": "bali", "threshold": 0.8}))
	handler.HandleMessage("guestgreet/embeddings/door", []byte("not json"))

	if len(rec.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(rec.requests))
	}
	req := rec.requests[0]
	if *req.CameraID != "door" || *req.BranchID != "bali" || *req.Threshold != 0.8 || len(req.Embedding) != 512 {
		t.Errorf("unexpected request %+v", req)
	}

	rec.err = errors.New("face service unavailable")
	handler.HandleMessage("guestgreet/embeddings/door", embeddingPayload(t, 512, nil))
	if len(rec.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(rec.requests))
	}
}

func TestClientDispatchesToHandlers(t *testing.T) {
	client := NewClient(config.MQTTConfig{EmbeddingTopic: "guestgreet/embeddings/#"})
	rec := &fakeRecognizer{done: make(chan struct{}, 1)}
	client.RegisterHandler(NewEmbeddingHandler(rec, time.Second))

	client.dispatch("guestgreet/embeddings/lobby", embeddingPayload(t, 128, nil))

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestDisabledClientDoesNotConnect(t *testing.T) {
	client := NewClient(config.MQTTConfig{Enabled: false})
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if client.IsConnected() {
		t.Error("disabled client must not be connected")
	}
	if err := client.PublishJSON("x", "y", false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("publish without connection = %v, want ErrNotConnected", err)
	}
	client.Stop()
}
