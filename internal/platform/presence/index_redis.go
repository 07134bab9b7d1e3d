package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// presenceTTL bounds how long a stale entry can outlive a crashed instance
// that never got to delete it.
const presenceTTL = 24 * time.Hour

// RedisIndex implements Index on a redis key per identity.
type RedisIndex struct {
	client redisClient
	logger zerolog.Logger
}

func NewRedisIndex(client redisClient, logger zerolog.Logger) (*RedisIndex, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisIndex{
		client: client,
		logger: logger.With().Str("component", "RedisPresenceIndex").Logger(),
	}, nil
}

func (s *RedisIndex) Set(ctx context.Context, id chat.Identity, info ConnectionInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal presence info: %w", err)
	}
	if err := s.client.Set(ctx, presenceKey(id), payload, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence for %s: %w", id, err)
	}
	return nil
}

func (s *RedisIndex) Delete(ctx context.Context, id chat.Identity) error {
	if err := s.client.Del(ctx, presenceKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence for %s: %w", id, err)
	}
	return nil
}

func (s *RedisIndex) IsOnline(ctx context.Context, id chat.Identity) (bool, error) {
	n, err := s.client.Exists(ctx, presenceKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence for %s: %w", id, err)
	}
	return n > 0, nil
}

func presenceKey(id chat.Identity) string { return fmt.Sprintf("presence:%s", id) }
