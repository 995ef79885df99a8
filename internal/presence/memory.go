package presence

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a Store held in process memory. It is used by single
// instance deployments and by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	nicks map[string]struct{}
	rooms map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nicks: make(map[string]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) AddMember(_ context.Context, room, nick string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		s.rooms[room] = members
	}
	members[nick] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, nick string, rooms []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, room := range rooms {
		members, ok := s.rooms[room]
		if !ok {
			continue
		}
		delete(members, nick)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.rooms))
	for room, members := range s.rooms {
		list := make([]string, 0, len(members))
		for nick := range members {
			list = append(list, nick)
		}
		sort.Strings(list)
		snap[room] = list
	}
	return snap, nil
}

func (s *MemoryStore) ReserveNickname(_ context.Context, nick string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.nicks[nick]; taken {
		return ErrNicknameInUse
	}
	s.nicks[nick] = struct{}{}
	return nil
}

func (s *MemoryStore) IsNicknameTaken(_ context.Context, nick string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, taken := s.nicks[nick]
	return taken, nil
}

func (s *MemoryStore) ReleaseNickname(_ context.Context, nick string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nicks, nick)
	return nil
}

func (s *MemoryStore) RefreshNickname(_ context.Context, nick string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nicks[nick] = struct{}{}
	return nil
}

func (s *MemoryStore) NicknameCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.nicks)), nil
}
