package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tyrowin/webchat/internal/bus"
	"github.com/Tyrowin/webchat/internal/chat"
	"github.com/Tyrowin/webchat/internal/presence"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindMessage Kind = "message"
	KindUsers   Kind = "users"
	KindPing    Kind = "ping"
	KindError   Kind = "error"
)

var errUnknownTopic = errors.New("unknown topic")

// Event is one item of a client's outbound stream. Only the field matching
// Kind is set.
type Event struct {
	Kind    Kind
	Message chat.MessagePayload
	Users   presence.Snapshot
	Reason  chat.Reason
}

// ErrorEvent returns an error event carrying reason.
func ErrorEvent(reason chat.Reason) Event {
	return Event{Kind: KindError, Reason: reason}
}

type errorData struct {
	Reason chat.Reason `json:"reason"`
}

// Data returns the JSON body of the event, without its kind.
func (e Event) Data() ([]byte, error) {
	switch e.Kind {
	case KindMessage:
		return json.Marshal(e.Message)
	case KindUsers:
		users := e.Users
		if users == nil {
			users = presence.Snapshot{}
		}
		return json.Marshal(users)
	case KindPing:
		return []byte("{}"), nil
	case KindError:
		return json.Marshal(errorData{Reason: e.Reason})
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// Envelope is the framed form of an event used on WebSocket connections.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Envelope wraps the event's data together with its kind.
func (e Event) Envelope() (Envelope, error) {
	data, err := e.Data()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: e.Kind, Data: data}, nil
}

// Classify turns a bus message into the event it carries, based on its topic.
func Classify(msg bus.Message) (Event, error) {
	if room, ok := bus.RoomFromTopic(msg.Topic); ok {
		var payload chat.MessagePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("decode message on %s: %w", msg.Topic, err)
		}
		if payload.Room == "" {
			payload.Room = room
		}
		return Event{Kind: KindMessage, Message: payload}, nil
	}

	switch msg.Topic {
	case bus.TopicUsers:
		var users presence.Snapshot
		if err := json.Unmarshal(msg.Payload, &users); err != nil {
			return Event{}, fmt.Errorf("decode users: %w", err)
		}
		return Event{Kind: KindUsers, Users: users}, nil
	case bus.TopicPing:
		return Event{Kind: KindPing}, nil
	default:
		return Event{}, fmt.Errorf("%w: %s", errUnknownTopic, msg.Topic)
	}
}
