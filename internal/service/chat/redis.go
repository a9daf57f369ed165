package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// appendScript refuses writes to revoked ids so a clear can never be undone
// by an in-flight append.
var appendScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("RPUSH", KEYS[1], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// RedisStore keeps each transcript as a Redis list of JSON-encoded turns.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. Keys are namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *RedisStore) revokedKey(id string) string { return s.prefix + "revoked:" + id }

// Get reads the transcript and refreshes its expiry. Backend errors are logged
// and read as an empty transcript.
func (s *RedisStore) Get(ctx context.Context, id string) chat.Transcript {
	key := s.sessionKey(id)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Str("session", id).Msg("redis read failed, treating as empty")
		return chat.Transcript{}
	}

	out := make(chat.Transcript, 0, len(raw))
	for _, item := range raw {
		turn, err := chat.DecodeTurn([]byte(item))
		if err != nil {
			log.Warn().Err(err).Str("component", "session").Str("session", id).Msg("skipping undecodable turn")
			continue
		}
		out = append(out, turn)
	}

	if len(raw) > 0 && s.ttl > 0 {
		if err := s.client.PExpire(ctx, key, s.ttl).Err(); err != nil {
			log.Debug().Err(err).Str("session", id).Msg("refresh ttl failed")
		}
	}
	return out
}

// Append pushes turn onto the session list unless id was revoked.
func (s *RedisStore) Append(ctx context.Context, id string, turn chat.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	payload, err := chat.EncodeTurn(turn)
	if err != nil {
		return err
	}

	ttl := s.ttl
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ok, err := appendScript.Run(ctx, s.client,
		[]string{s.sessionKey(id), s.revokedKey(id)},
		string(payload), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return errors.Wrap(err, "redis append")
	}
	if ok == 0 {
		return ErrSessionRevoked
	}
	return nil
}

// Clear deletes the transcript, tombstones id and returns a fresh id.
func (s *RedisStore) Clear(ctx context.Context, id string) (string, error) {
	if id != "" {
		ttl := s.ttl
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.revokedKey(id), "1", ttl)
			pipe.Del(ctx, s.sessionKey(id))
			return nil
		})
		if err != nil {
			return "", errors.Wrap(err, "redis clear")
		}
	}
	return uuid.NewString(), nil
}

// Revoked checks the tombstone left by Clear. A backend error is logged and
// reads as not revoked; Append still refuses the write atomically.
func (s *RedisStore) Revoked(ctx context.Context, id string) bool {
	n, err := s.client.Exists(ctx, s.revokedKey(id)).Result()
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Str("session", id).Msg("redis revoked check failed")
		return false
	}
	return n > 0
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
