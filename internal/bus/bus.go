// Package bus carries chat traffic between server instances.
//
// Publishers send a payload to a topic; subscribers register a glob pattern
// and receive every matching message published after their subscription was
// confirmed. Delivery is best effort: a subscriber that falls behind loses
// messages rather than slowing publishers down.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Topic names. Every topic starts with Prefix, so Pattern matches them all.
const (
	Prefix     = "webchat."
	TopicUsers = Prefix + "users"
	TopicPing  = Prefix + "ping"
	Pattern    = Prefix + "*"

	roomPrefix = Prefix + "room."
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("bus closed")

// RoomTopic returns the topic carrying messages for room.
func RoomTopic(room string) string {
	return roomPrefix + room
}

// RoomFromTopic reports the room a room topic belongs to.
func RoomFromTopic(topic string) (string, bool) {
	room, ok := strings.CutPrefix(topic, roomPrefix)
	if !ok || room == "" {
		return "", false
	}
	return room, true
}

// Message is one published payload together with the topic it was sent on.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is a live pattern subscription. Messages is closed once the
// subscription ends, either through Close or through cancellation of the
// context passed to Subscribe.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus is a topic based publish/subscribe transport.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, pattern string) (Subscription, error)
}

const defaultBuffer = 64

type options struct {
	buffer int
	logger *slog.Logger
}

// Option configures a Bus implementation.
type Option func(*options)

// WithBuffer sets how many undelivered messages a subscription may hold.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithLogger sets the logger used for delivery problems.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{buffer: defaultBuffer, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
