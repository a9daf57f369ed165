package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-chat/internal/config"
	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// ErrSessionRevoked is returned when appending to a session id that was cleared.
var ErrSessionRevoked = errors.New("session revoked")

// Store owns every session transcript. A missing, expired or cleared session
// reads as an empty transcript, never as an error.
type Store interface {
	// Get returns a copy of the transcript for id.
	Get(ctx context.Context, id string) chat.Transcript
	// Append adds turn to the end of the transcript for id.
	Append(ctx context.Context, id string, turn chat.Turn) error
	// Clear discards the transcript, revokes id and returns a fresh identifier.
	Clear(ctx context.Context, id string) (string, error)
	// Revoked reports whether id was cleared and may no longer be used.
	Revoked(ctx context.Context, id string) bool
	Close() error
}

// NewStore builds the backend selected by cfg.Backend.
func NewStore(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	switch cfg.Backend {
	case config.SessionBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info().Str("component", "session").Str("addr", cfg.RedisAddr).Msg("using redis session store")
		return NewRedisStore(client, cfg.RedisPrefix, cfg.TTL), nil
	default:
		store := NewMemoryStore(cfg.TTL)
		store.StartEvictionLoop(ctx, evictInterval(cfg))
		log.Info().Str("component", "session").Dur("ttl", cfg.TTL).Msg("using in-memory session store")
		return store, nil
	}
}

func evictInterval(cfg config.SessionConfig) (interval time.Duration) {
	interval = cfg.TTL / 4
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
