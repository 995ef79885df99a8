package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// flushTimeout bounds the subscribe round trip when the caller's context
// carries no deadline of its own.
const flushTimeout = 5 * time.Second

// NATSBus carries topics as core NATS subjects. The dot separated topic
// names map onto subject tokens directly.
type NATSBus struct {
	nc     *nats.Conn
	buffer int
	logger *slog.Logger
}

// NewNATSBus returns a NATSBus on nc. The connection is not closed by the bus.
func NewNATSBus(nc *nats.Conn, opts ...Option) *NATSBus {
	o := buildOptions(opts)
	return &NATSBus{nc: nc, buffer: o.buffer, logger: o.logger}
}

func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.nc.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe translates pattern into a NATS subject and flushes so the server
// has registered the interest before it returns.
func (b *NATSBus) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	subject := natsSubject(pattern)
	in := make(chan *nats.Msg, b.buffer)

	ns, err := b.nc.ChanSubscribe(subject, in)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	if err := b.flush(ctx); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	sub := &natsSubscription{
		sub:  ns,
		out:  make(chan Message, b.buffer),
		done: make(chan struct{}),
	}
	go sub.pump(in)
	context.AfterFunc(ctx, func() {
		if err := sub.Close(); err != nil {
			b.logger.Debug("Error closing subscription", "pattern", pattern, "error", err)
		}
	})
	return sub, nil
}

// flush waits for the server to acknowledge pending protocol. nats.go refuses
// contexts without a deadline, so one is added when missing.
func (b *NATSBus) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return b.nc.FlushWithContext(ctx)
}

// natsSubject turns a trailing "*" glob, which also matches dots, into the
// NATS multi-token wildcard.
func natsSubject(pattern string) string {
	if pattern == "*" {
		return ">"
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.TrimSuffix(pattern, "*") + ">"
	}
	return pattern
}

type natsSubscription struct {
	sub  *nats.Subscription
	out  chan Message
	done chan struct{}
	once sync.Once
	err  error
}

func (s *natsSubscription) pump(in <-chan *nats.Msg) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case m := <-in:
			select {
			case s.out <- Message{Topic: m.Subject, Payload: m.Data}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *natsSubscription) Messages() <-chan Message {
	return s.out
}

func (s *natsSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.sub.Unsubscribe()
	})
	return s.err
}
