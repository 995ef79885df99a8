package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore keeps presence in two JetStream key-value buckets: one keyed by
// nickname and one keyed by room whose values are JSON member arrays.
type NATSStore struct {
	nicks      jetstream.KeyValue
	rooms      jetstream.KeyValue
	maxRetries int
}

// NewNATSStore opens, creating when missing, the buckets
// "<bucketPrefix>_nicknames" and "<bucketPrefix>_rooms".
func NewNATSStore(ctx context.Context, js jetstream.JetStream, bucketPrefix string) (*NATSStore, error) {
	nicks, err := openBucket(ctx, js, bucketPrefix+"_nicknames")
	if err != nil {
		return nil, err
	}
	rooms, err := openBucket(ctx, js, bucketPrefix+"_rooms")
	if err != nil {
		return nil, err
	}
	return &NATSStore{nicks: nicks, rooms: rooms, maxRetries: defaultMaxRetries}, nil
}

func openBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "webchat presence",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return kv, nil
}

func (s *NATSStore) AddMember(ctx context.Context, room, nick string) error {
	return s.updateRoom(ctx, room, func(members []string) ([]string, bool) {
		return insertMember(members, nick)
	})
}

func (s *NATSStore) RemoveMember(ctx context.Context, nick string, rooms []string) error {
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

// updateRoom applies mutate to the room's members using revision checked
// writes, retrying when the revision moved underneath it.
func (s *NATSStore) updateRoom(ctx context.Context, room string, mutate func([]string) ([]string, bool)) error {
	for i := 0; i < s.maxRetries; i++ {
		var (
			members  []string
			revision uint64
		)
		entry, err := s.rooms.Get(ctx, room)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("read room %q: %w", room, err)
		default:
			revision = entry.Revision()
			if members, err = decodeMembers(entry.Value()); err != nil {
				return fmt.Errorf("decode members of %q: %w", room, err)
			}
		}

		next, changed := mutate(members)
		if !changed {
			return nil
		}

		switch {
		case len(next) == 0:
			err = s.rooms.Delete(ctx, room, jetstream.LastRevision(revision))
		case revision == 0:
			var data []byte
			if data, err = encodeMembers(next); err == nil {
				_, err = s.rooms.Create(ctx, room, data)
			}
		default:
			var data []byte
			if data, err = encodeMembers(next); err == nil {
				_, err = s.rooms.Update(ctx, room, data, revision)
			}
		}
		if isRevisionConflict(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("write room %q: %w", room, err)
		}
		return nil
	}
	return fmt.Errorf("update room %q: %w", room, ErrConflict)
}

func isRevisionConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *NATSStore) Snapshot(ctx context.Context) (Snapshot, error) {
	rooms, err := bucketKeys(ctx, s.rooms)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	snap := make(Snapshot, len(rooms))
	for _, room := range rooms {
		entry, err := s.rooms.Get(ctx, room)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read room %q: %w", room, err)
		}
		members, err := decodeMembers(entry.Value())
		if err != nil {
			return nil, fmt.Errorf("decode members of %q: %w", room, err)
		}
		if len(members) > 0 {
			snap[room] = members
		}
	}
	return snap, nil
}

func bucketKeys(ctx context.Context, kv jetstream.KeyValue) ([]string, error) {
	keys, err := kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, err
}

func (s *NATSStore) ReserveNickname(ctx context.Context, nick string) error {
	_, err := s.nicks.Create(ctx, nick, []byte("1"))
	if errors.Is(err, jetstream.ErrKeyExists) {
		return ErrNicknameInUse
	}
	if err != nil {
		return fmt.Errorf("reserve nickname: %w", err)
	}
	return nil
}

func (s *NATSStore) IsNicknameTaken(ctx context.Context, nick string) (bool, error) {
	_, err := s.nicks.Get(ctx, nick)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check nickname: %w", err)
	}
	return true, nil
}

func (s *NATSStore) ReleaseNickname(ctx context.Context, nick string) error {
	if err := s.nicks.Delete(ctx, nick); err != nil {
		return fmt.Errorf("release nickname: %w", err)
	}
	return nil
}

func (s *NATSStore) RefreshNickname(ctx context.Context, nick string) error {
	if _, err := s.nicks.Put(ctx, nick, []byte("1")); err != nil {
		return fmt.Errorf("refresh nickname: %w", err)
	}
	return nil
}

func (s *NATSStore) NicknameCount(ctx context.Context) (int64, error) {
	keys, err := bucketKeys(ctx, s.nicks)
	if err != nil {
		return 0, fmt.Errorf("count nicknames: %w", err)
	}
	return int64(len(keys)), nil
}
