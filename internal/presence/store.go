// Package presence keeps the shared registry of connected nicknames and the
// rooms they are in.
//
// Three backends implement Store: an in-process MemoryStore, a RedisStore
// that keeps a set of nicknames plus a hash of room member lists, and a
// NATSStore built on two JetStream key-value buckets. Every backend treats a
// room with no members as absent.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

var (
	// ErrNicknameInUse is returned by ReserveNickname when the nickname is
	// already held by another session.
	ErrNicknameInUse = errors.New("nickname already in use")

	// ErrConflict is returned when an optimistic room update keeps losing to
	// concurrent writers.
	ErrConflict = errors.New("presence: too many concurrent room updates")
)

// Snapshot maps each non-empty room to its members, sorted.
type Snapshot map[string][]string

// Rooms returns the snapshot's room names in sorted order.
func (s Snapshot) Rooms() []string {
	rooms := make([]string, 0, len(s))
	for room := range s {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Store is the presence registry shared by every server instance.
type Store interface {
	// AddMember puts nick into room, creating the room if needed.
	AddMember(ctx context.Context, room, nick string) error
	// RemoveMember takes nick out of each listed room. Rooms left empty are deleted.
	RemoveMember(ctx context.Context, nick string, rooms []string) error
	// Snapshot returns every non-empty room with its members.
	Snapshot(ctx context.Context) (Snapshot, error)

	// ReserveNickname atomically claims nick or fails with ErrNicknameInUse.
	ReserveNickname(ctx context.Context, nick string) error
	IsNicknameTaken(ctx context.Context, nick string) (bool, error)
	ReleaseNickname(ctx context.Context, nick string) error
	// RefreshNickname marks nick as held without checking whether it already is.
	RefreshNickname(ctx context.Context, nick string) error
	NicknameCount(ctx context.Context) (int64, error)
}

const defaultMaxRetries = 16

// insertMember returns members with nick added in sorted position.
func insertMember(members []string, nick string) ([]string, bool) {
	i := sort.SearchStrings(members, nick)
	if i < len(members) && members[i] == nick {
		return members, false
	}
	out := make([]string, 0, len(members)+1)
	out = append(out, members[:i]...)
	out = append(out, nick)
	out = append(out, members[i:]...)
	return out, true
}

func deleteMember(members []string, nick string) ([]string, bool) {
	i := sort.SearchStrings(members, nick)
	if i >= len(members) || members[i] != nick {
		return members, false
	}
	out := make([]string, 0, len(members)-1)
	out = append(out, members[:i]...)
	return append(out, members[i+1:]...), true
}

// decodeMembers reads a JSON member list. Lists written by other tools may be
// unsorted or hold duplicates, so the result is normalized.
func decodeMembers(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var members []string
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	sort.Strings(members)
	out := members[:0]
	for _, m := range members {
		if m == "" || (len(out) > 0 && out[len(out)-1] == m) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func encodeMembers(members []string) ([]byte, error) {
	return json.Marshal(members)
}
