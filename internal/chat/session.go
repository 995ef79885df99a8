package chat

import (
	"slices"
	"sync"
)

// Session is one logged in user's state. It is created by Manager.Login and
// only changed through the Manager.
type Session struct {
	mu     sync.Mutex
	nick   string
	rooms  []string
	held   map[string]struct{}
	closed bool
}

func newSession(nick string, rooms []string) *Session {
	s := &Session{
		nick: nick,
		held: make(map[string]struct{}, len(rooms)),
	}
	for _, room := range rooms {
		s.addRoomLocked(room)
	}
	return s
}

// Nick returns the session's nickname.
func (s *Session) Nick() string {
	return s.nick
}

// Rooms returns the joined rooms in the order they were joined.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}

// HasRoom reports whether the session is currently in room.
func (s *Session) HasRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.rooms, room)
}

// Closed reports whether the session has been disconnected.
func (s *Session) Closed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) addRoomLocked(room string) bool {
	s.held[room] = struct{}{}
	if slices.Contains(s.rooms, room) {
		return false
	}
	s.rooms = append(s.rooms, room)
	return true
}

func (s *Session) removeRoomLocked(room string) bool {
	i := slices.Index(s.rooms, room)
	if i < 0 {
		return false
	}
	s.rooms = slices.Delete(s.rooms, i, i+1)
	return true
}

func (s *Session) heldRoomsLocked() []string {
	rooms := make([]string, 0, len(s.held))
	for room := range s.held {
		rooms = append(rooms, room)
	}
	slices.Sort(rooms)
	return rooms
}
