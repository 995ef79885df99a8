package bus

import (
	"context"
	"log/slog"
	"path"
	"sync"
)

// MemoryBus delivers messages between goroutines of one process.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	closed bool
	buffer int
	logger *slog.Logger
}

// NewMemoryBus returns an open MemoryBus.
func NewMemoryBus(opts ...Option) *MemoryBus {
	o := buildOptions(opts)
	return &MemoryBus{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: o.buffer,
		logger: o.logger,
	}
}

// Publish hands the message to every matching subscription without waiting
// on any of them.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.logger.Warn("Dropping message for slow subscriber", "topic", topic, "pattern", sub.pattern)
		}
	}
	return nil
}

// Subscribe registers pattern, a path.Match glob, and returns at once.
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		bus:     b,
		pattern: pattern,
		ch:      make(chan Message, b.buffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub, nil
}

// Close ends every subscription and rejects further use.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

type memorySubscription struct {
	bus     *MemoryBus
	pattern string
	ch      chan Message
	once    sync.Once
}

func (s *memorySubscription) matches(topic string) bool {
	ok, _ := path.Match(s.pattern, topic)
	return ok
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		// Publish holds the read lock while sending, so the channel is only
		// closed once no sender can reach it.
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}
