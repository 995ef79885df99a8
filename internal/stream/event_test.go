package stream

import (
	"errors"
	"testing"

	"github.com/Tyrowin/webchat/internal/bus"
	"github.com/Tyrowin/webchat/internal/chat"
)

// TestClassify tests that each topic maps to its event kind.
func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		msg      bus.Message
		expected Kind
		wantErr  bool
	}{
		{"room message", bus.Message{Topic: bus.RoomTopic("go"), Payload: []byte(`{"message":"hi","nick":"a","room":"go"}`)}, KindMessage, false},
		{"users", bus.Message{Topic: bus.TopicUsers, Payload: []byte(`{"go":["a"]}`)}, KindUsers, false},
		{"ping", bus.Message{Topic: bus.TopicPing}, KindPing, false},
		{"bad message", bus.Message{Topic: bus.RoomTopic("go"), Payload: []byte(`nope`)}, "", true},
		{"bad users", bus.Message{Topic: bus.TopicUsers, Payload: []byte(`"x"`)}, "", true},
		{"unknown topic", bus.Message{Topic: "webchat.other"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Classify(tt.msg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got event %+v", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if ev.Kind != tt.expected {
				t.Errorf("Expected kind %q, got %q", tt.expected, ev.Kind)
			}
		})
	}
}

// TestClassifyFillsRoomFromTopic tests that a payload without a room takes
// it from the topic.
func TestClassifyFillsRoomFromTopic(t *testing.T) {
	ev, err := Classify(bus.Message{Topic: bus.RoomTopic("go"), Payload: []byte(`{"message":"hi","nick":"a"}`)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ev.Message.Room != "go" {
		t.Errorf("Expected room %q, got %q", "go", ev.Message.Room)
	}
}

// TestUnknownTopicError tests that unknown topics wrap errUnknownTopic.
func TestUnknownTopicError(t *testing.T) {
	_, err := Classify(bus.Message{Topic: "webchat.nope"})
	if !errors.Is(err, errUnknownTopic) {
		t.Errorf("Expected errUnknownTopic, got %v", err)
	}
}

// TestEventData tests the JSON body produced for each kind.
func TestEventData(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		expected string
	}{
		{"message", Event{Kind: KindMessage, Message: chat.MessagePayload{Message: "hi", Nick: "a", Room: "go"}}, `{"message":"hi","nick":"a","room":"go"}`},
		{"users", Event{Kind: KindUsers, Users: map[string][]string{"go": {"a", "b"}}}, `{"go":["a","b"]}`},
		{"empty users", Event{Kind: KindUsers}, `{}`},
		{"ping", Event{Kind: KindPing}, `{}`},
		{"error", ErrorEvent(chat.ReasonBackendUnavailable), `{"reason":"backend_unavailable"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.event.Data()
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, data)
			}
		})
	}

	if _, err := (Event{Kind: "bogus"}).Data(); err == nil {
		t.Error("Expected error for unknown kind")
	}
}

// TestEnvelope tests that envelopes carry the kind and raw data.
func TestEnvelope(t *testing.T) {
	env, err := Event{Kind: KindPing}.Envelope()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if env.Type != KindPing || string(env.Data) != "{}" {
		t.Errorf("Unexpected envelope %+v", env)
	}
}

// TestStateString tests the readable state names.
func TestStateString(t *testing.T) {
	for state, name := range map[State]string{
		Connecting: "connecting",
		Subscribed: "subscribed",
		Streaming:  "streaming",
		Closed:     "closed",
		State(42):  "unknown",
	} {
		if state.String() != name {
			t.Errorf("Expected %q, got %q", name, state.String())
		}
	}
}
