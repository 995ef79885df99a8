// Package chat implements the room membership protocol: login, joining and
// leaving rooms, disconnecting, sending messages and answering liveness pings.
//
// Every action first changes the presence store and then publishes the new
// presence snapshot on the bus. The two steps are not atomic. A failed
// publish after a successful store change is logged and the change stands.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/Tyrowin/webchat/internal/bus"
	"github.com/Tyrowin/webchat/internal/presence"
)

// MessagePayload is the body published on a room topic.
type MessagePayload struct {
	Message string `json:"message"`
	Nick    string `json:"nick"`
	Room    string `json:"room"`
}

// Manager runs chat actions against a presence store and a bus.
type Manager struct {
	store            presence.Store
	bus              bus.Bus
	logger           *slog.Logger
	defaultRoom      string
	maxMessageLength int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for action outcomes and backend failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDefaultRoom sets the room joined when a login names none. Invalid room
// names are ignored.
func WithDefaultRoom(room string) Option {
	return func(m *Manager) {
		if ValidateRoom(room) == nil {
			m.defaultRoom = room
		}
	}
}

// WithMaxMessageLength caps message length in characters.
func WithMaxMessageLength(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxMessageLength = n
		}
	}
}

// NewManager returns a Manager using store and b.
func NewManager(store presence.Store, b bus.Bus, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		bus:              b,
		logger:           slog.Default(),
		defaultRoom:      "global",
		maxMessageLength: DefaultMaxMessageLength,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the presence store the manager writes to.
func (m *Manager) Store() presence.Store {
	return m.store
}

// Login reserves nick, places it in rooms (or the default room when rooms is
// empty) and returns the new session.
func (m *Manager) Login(ctx context.Context, nick string, rooms []string) (*Session, error) {
	if err := ValidateNickname(nick); err != nil {
		return nil, err
	}
	rooms = dedupe(rooms)
	for _, room := range rooms {
		if err := ValidateRoom(room); err != nil {
			return nil, err
		}
	}
	if len(rooms) == 0 {
		rooms = []string{m.defaultRoom}
	}

	if err := m.store.ReserveNickname(ctx, nick); err != nil {
		if errors.Is(err, presence.ErrNicknameInUse) {
			return nil, ErrNicknameInUse
		}
		m.logger.Error("Failed to reserve nickname", "nick", nick, "error", err)
		return nil, backendError("login", err)
	}

	for i, room := range rooms {
		if err := m.store.AddMember(ctx, room, nick); err != nil {
			m.logger.Error("Failed to add member", "nick", nick, "room", room, "error", err)
			m.abandonLogin(ctx, nick, rooms[:i])
			return nil, backendError("login", err)
		}
	}

	sess := newSession(nick, rooms)
	m.publishPresence(ctx)
	m.logger.Info("User logged in", "nick", nick, "rooms", rooms)
	return sess, nil
}

// abandonLogin undoes what a failed login managed to write.
func (m *Manager) abandonLogin(ctx context.Context, nick string, rooms []string) {
	ctx = context.WithoutCancel(ctx)
	if len(rooms) > 0 {
		if err := m.store.RemoveMember(ctx, nick, rooms); err != nil {
			m.logger.Warn("Failed to remove member after failed login", "nick", nick, "error", err)
		}
	}
	if err := m.store.ReleaseNickname(ctx, nick); err != nil {
		m.logger.Warn("Failed to release nickname after failed login", "nick", nick, "error", err)
	}
}

// JoinRooms adds the session to every listed room it is not yet in and
// returns the session's rooms afterwards. Presence is republished even when
// nothing changed.
func (m *Manager) JoinRooms(ctx context.Context, sess *Session, rooms []string) ([]string, error) {
	if sess == nil {
		return nil, ErrNotAuthenticated
	}
	rooms = dedupe(rooms)
	if len(rooms) == 0 {
		return nil, ErrInvalidRoom
	}
	for _, room := range rooms {
		if err := ValidateRoom(room); err != nil {
			return nil, err
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil, ErrNotAuthenticated
	}

	for _, room := range rooms {
		if slices.Contains(sess.rooms, room) {
			continue
		}
		if err := m.store.AddMember(ctx, room, sess.nick); err != nil {
			m.logger.Error("Failed to add member", "nick", sess.nick, "room", room, "error", err)
			return slices.Clone(sess.rooms), backendError("join rooms", err)
		}
		sess.addRoomLocked(room)
	}

	m.publishPresence(ctx)
	return slices.Clone(sess.rooms), nil
}

// Leave takes the session out of room. Leaving the last room disconnects the
// session entirely, which is reported through disconnected.
func (m *Manager) Leave(ctx context.Context, sess *Session, room string) (rooms []string, disconnected bool, err error) {
	if sess == nil {
		return nil, false, ErrNotAuthenticated
	}
	room = strings.TrimSpace(room)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil, false, ErrNotAuthenticated
	}
	if room == "" || !slices.Contains(sess.rooms, room) {
		return nil, false, ErrInvalidRoom
	}

	if len(sess.rooms) == 1 {
		sess.removeRoomLocked(room)
		return nil, true, m.disconnectLocked(ctx, sess)
	}

	// The session keeps the room until the store has dropped it.
	if err := m.store.RemoveMember(ctx, sess.nick, []string{room}); err != nil {
		m.logger.Error("Failed to remove member", "nick", sess.nick, "room", room, "error", err)
		return slices.Clone(sess.rooms), false, backendError("leave room", err)
	}
	sess.removeRoomLocked(room)
	m.publishPresence(ctx)
	return slices.Clone(sess.rooms), false, nil
}

// Disconnect releases the nickname, removes it from every room the session
// ever held and closes the session. Disconnecting a closed session does nothing.
// The session is closed even when the store could not be cleaned up.
func (m *Manager) Disconnect(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil
	}
	return m.disconnectLocked(ctx, sess)
}

func (m *Manager) disconnectLocked(ctx context.Context, sess *Session) error {
	sess.closed = true
	held := sess.heldRoomsLocked()

	var errs []error
	if err := m.store.ReleaseNickname(ctx, sess.nick); err != nil {
		errs = append(errs, err)
	}
	if err := m.store.RemoveMember(ctx, sess.nick, held); err != nil {
		errs = append(errs, err)
	}
	m.publishPresence(ctx)

	if err := errors.Join(errs...); err != nil {
		m.logger.Error("Failed to clean up after disconnect", "nick", sess.nick, "error", err)
		return backendError("disconnect", err)
	}
	m.logger.Info("User disconnected", "nick", sess.nick)
	return nil
}

// SendMessage publishes text to room on behalf of the session. Blank text is
// silently ignored.
func (m *Manager) SendMessage(ctx context.Context, sess *Session, room, text string) error {
	if sess.Closed() {
		return ErrNotAuthenticated
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if messageTooLong(text, m.maxMessageLength) {
		return ErrInvalidMessage
	}

	room = strings.TrimSpace(room)
	if !sess.HasRoom(room) {
		return ErrWrongRoom
	}

	payload, err := json.Marshal(MessagePayload{
		Message: formatMessage(text),
		Nick:    sess.nick,
		Room:    room,
	})
	if err != nil {
		return errors.Join(ErrUnexpected, err)
	}

	if err := m.bus.Publish(ctx, bus.RoomTopic(room), payload); err != nil {
		m.logger.Error("Failed to publish message", "nick", sess.nick, "room", room, "error", err)
		return backendError("send message", err)
	}
	m.logger.Info("Message published", "nick", sess.nick, "room", room, "length", len(text))
	return nil
}

// Pong answers a liveness ping: the nickname and memberships are written
// again and presence republished.
func (m *Manager) Pong(ctx context.Context, sess *Session) error {
	if sess == nil {
		return ErrNotAuthenticated
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrNotAuthenticated
	}

	if err := m.store.RefreshNickname(ctx, sess.nick); err != nil {
		m.logger.Error("Failed to refresh nickname", "nick", sess.nick, "error", err)
		return backendError("pong", err)
	}
	for _, room := range sess.rooms {
		if err := m.store.AddMember(ctx, room, sess.nick); err != nil {
			m.logger.Error("Failed to refresh member", "nick", sess.nick, "room", room, "error", err)
			return backendError("pong", err)
		}
	}
	if err := m.publishPresence(ctx); err != nil {
		return backendError("pong", err)
	}
	return nil
}

// Users returns the current presence snapshot.
func (m *Manager) Users(ctx context.Context) (presence.Snapshot, error) {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		m.logger.Error("Failed to read presence", "error", err)
		return nil, backendError("users", err)
	}
	return snap, nil
}

// publishPresence sends the current snapshot on the users topic. Failures
// are logged as warnings and returned for callers that care.
func (m *Manager) publishPresence(ctx context.Context) error {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		m.logger.Warn("Failed to read presence for publish", "error", err)
		return err
	}
	if snap == nil {
		snap = presence.Snapshot{}
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		m.logger.Warn("Failed to encode presence", "error", err)
		return err
	}
	if err := m.bus.Publish(ctx, bus.TopicUsers, payload); err != nil {
		m.logger.Warn("Failed to publish presence", "error", err)
		return err
	}
	return nil
}
