package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps presence in two Redis keys: a set of reserved nicknames
// and a hash mapping each room to a JSON array of its members.
type RedisStore struct {
	client     redis.UniversalClient
	nicksKey   string
	roomsKey   string
	maxRetries int
}

// NewRedisStore returns a RedisStore whose keys start with prefix, for
// example "webchat:" gives "webchat:user_list" and "webchat:users".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client:     client,
		nicksKey:   prefix + "user_list",
		roomsKey:   prefix + "users",
		maxRetries: defaultMaxRetries,
	}
}

func (s *RedisStore) AddMember(ctx context.Context, room, nick string) error {
	return s.updateRoom(ctx, room, func(members []string) ([]string, bool) {
		return insertMember(members, nick)
	})
}

func (s *RedisStore) RemoveMember(ctx context.Context, nick string, rooms []string) error {
	var errs []error
	for _, room := range rooms {
		err := s.updateRoom(ctx, room, func(members []string) ([]string, bool) {
			return deleteMember(members, nick)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// updateRoom runs a read-modify-write of one room's member list inside a
// WATCH transaction, retrying when another writer touches the hash first.
func (s *RedisStore) updateRoom(ctx context.Context, room string, mutate func([]string) ([]string, bool)) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, s.roomsKey, room).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		members, err := decodeMembers(raw)
		if err != nil {
			return fmt.Errorf("decode members of %q: %w", room, err)
		}

		next, changed := mutate(members)
		if !changed {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(next) == 0 {
				pipe.HDel(ctx, s.roomsKey, room)
				return nil
			}
			data, err := encodeMembers(next)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, s.roomsKey, room, data)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.roomsKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update room %q: %w", room, err)
		}
		return nil
	}
	return fmt.Errorf("update room %q: %w", room, ErrConflict)
}

func (s *RedisStore) Snapshot(ctx context.Context) (Snapshot, error) {
	all, err := s.client.HGetAll(ctx, s.roomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read rooms: %w", err)
	}

	snap := make(Snapshot, len(all))
	for room, raw := range all {
		members, err := decodeMembers([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode members of %q: %w", room, err)
		}
		if len(members) == 0 {
			continue
		}
		snap[room] = members
	}
	return snap, nil
}

func (s *RedisStore) ReserveNickname(ctx context.Context, nick string) error {
	added, err := s.client.SAdd(ctx, s.nicksKey, nick).Result()
	if err != nil {
		return fmt.Errorf("reserve nickname: %w", err)
	}
	if added == 0 {
		return ErrNicknameInUse
	}
	return nil
}

func (s *RedisStore) IsNicknameTaken(ctx context.Context, nick string) (bool, error) {
	taken, err := s.client.SIsMember(ctx, s.nicksKey, nick).Result()
	if err != nil {
		return false, fmt.Errorf("check nickname: %w", err)
	}
	return taken, nil
}

func (s *RedisStore) ReleaseNickname(ctx context.Context, nick string) error {
	if err := s.client.SRem(ctx, s.nicksKey, nick).Err(); err != nil {
		return fmt.Errorf("release nickname: %w", err)
	}
	return nil
}

func (s *RedisStore) RefreshNickname(ctx context.Context, nick string) error {
	if err := s.client.SAdd(ctx, s.nicksKey, nick).Err(); err != nil {
		return fmt.Errorf("refresh nickname: %w", err)
	}
	return nil
}

func (s *RedisStore) NicknameCount(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.nicksKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count nicknames: %w", err)
	}
	return n, nil
}
