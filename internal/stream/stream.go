// Package stream turns the shared bus into one typed, ordered event
// sequence per connected client.
//
// Every client receives every room's messages. Deciding which rooms to show
// is left to the client.
package stream

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Tyrowin/webchat/internal/bus"
	"github.com/Tyrowin/webchat/internal/chat"
	"github.com/Tyrowin/webchat/internal/presence"
)

// State is where a Stream is in its lifecycle.
type State int32

const (
	Connecting State = iota
	Subscribed
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const defaultBuffer = 32

// Dispatcher opens event streams for authenticated sessions.
type Dispatcher struct {
	store  presence.Store
	bus    bus.Bus
	logger *slog.Logger
	buffer int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithBuffer sets how many events a stream holds for a slow reader before it
// stops pulling from the bus.
func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// NewDispatcher returns a Dispatcher reading presence from store and events
// from b.
func NewDispatcher(store presence.Store, b bus.Bus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		bus:    b,
		logger: slog.Default(),
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open starts a stream for sess. It fails with chat.ErrNotAuthenticated for
// a missing or closed session and with chat.ErrNoUsers when nobody holds a
// nickname. If the bus subscription fails the returned stream carries a
// single backend_unavailable error event and then ends.
//
// The stream lives until ctx is done or Close is called.
func (d *Dispatcher) Open(ctx context.Context, sess *chat.Session) (*Stream, error) {
	if sess.Closed() {
		return nil, chat.ErrNotAuthenticated
	}

	count, err := d.store.NicknameCount(ctx)
	switch {
	case err != nil:
		d.logger.Warn("Failed to count nicknames; opening stream anyway", "error", err)
	case count == 0:
		return nil, chat.ErrNoUsers
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		id:     uuid.NewString(),
		nick:   sess.Nick(),
		events: make(chan Event, d.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
		logger: d.logger,
	}

	sub, err := d.bus.Subscribe(ctx, bus.Pattern)
	if err != nil {
		d.logger.Error("Failed to subscribe event stream", "stream", s.id, "nick", s.nick, "error", err)
		s.events <- ErrorEvent(chat.ReasonBackendUnavailable)
		s.finish()
		return s, nil
	}

	s.state.Store(int32(Subscribed))
	d.logger.Debug("Event stream opened", "stream", s.id, "nick", s.nick)
	go s.run(ctx, sub)
	return s, nil
}

// Stream is one client's event sequence.
type Stream struct {
	id     string
	nick   string
	state  atomic.Int32
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	logger *slog.Logger
}

// ID identifies the stream in logs.
func (s *Stream) ID() string {
	return s.id
}

// Nick returns the nickname of the session the stream was opened for.
func (s *Stream) Nick() string {
	return s.nick
}

// Events yields events in the order they were received. It is closed when
// the stream ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed once the stream has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// State reports the stream's current lifecycle state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Close ends the stream and waits for its subscription to be released.
// Buffered events that were not read are discarded.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Stream) run(ctx context.Context, sub bus.Subscription) {
	defer func() {
		if err := sub.Close(); err != nil {
			s.logger.Debug("Error closing stream subscription", "stream", s.id, "error", err)
		}
		s.finish()
		s.logger.Debug("Event stream closed", "stream", s.id, "nick", s.nick)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			event, err := Classify(msg)
			if err != nil {
				s.logger.Warn("Skipping undecodable bus message", "stream", s.id, "topic", msg.Topic, "error", err)
				continue
			}
			s.state.CompareAndSwap(int32(Subscribed), int32(Streaming))
			select {
			case s.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Stream) finish() {
	s.state.Store(int32(Closed))
	s.cancel()
	close(s.events)
	close(s.done)
}
