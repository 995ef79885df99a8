package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes with PUBLISH and subscribes with PSUBSCRIBE, whose glob
// syntax already matches the pattern form used by this package.
type RedisBus struct {
	client redis.UniversalClient
	buffer int
	logger *slog.Logger
}

// NewRedisBus returns a RedisBus on client. The client is not closed by the bus.
func NewRedisBus(client redis.UniversalClient, opts ...Option) *RedisBus {
	o := buildOptions(opts)
	return &RedisBus{client: client, buffer: o.buffer, logger: o.logger}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns after Redis has confirmed the subscription, so a
// message published afterwards is guaranteed to be seen.
func (b *RedisBus) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	ps := b.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", pattern, err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan Message, b.buffer),
		done: make(chan struct{}),
	}
	go sub.pump(ps.Channel(redis.WithChannelSize(b.buffer)))
	context.AfterFunc(ctx, func() {
		if err := sub.Close(); err != nil {
			b.logger.Debug("Error closing subscription", "pattern", pattern, "error", err)
		}
	})
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
	err  error
}

func (s *redisSubscription) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Topic: m.Channel, Payload: []byte(m.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}
