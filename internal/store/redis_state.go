package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/BTreeMap/Kiko/internal/models"
)

// DefaultStateTTL bounds how long an unanswered pending intent survives.
const DefaultStateTTL = 24 * time.Hour

const redisStatePrefix = "kiko:state:"

// RedisStateStore keeps conversation state in Redis so several Kiko
// instances share it. Keys expire after the configured TTL.
type RedisStateStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore connects to the Redis server at url (redis://...).
func NewRedisStateStore(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*RedisStateStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStateStoreWithClient(client, ttl, logger), nil
}

// NewRedisStateStoreWithClient wraps an existing client.
func NewRedisStateStoreWithClient(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStateStore{client: client, ttl: ttl, logger: logger}
}

func (s *RedisStateStore) key(id models.Identity) string {
	return redisStatePrefix + string(id)
}

func (s *RedisStateStore) GetState(ctx context.Context, id models.Identity) (models.ConversationState, error) {
	data, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return models.ConversationState{Identity: id}, nil
	}
	if err != nil {
		s.logger.Error("RedisStateStore GetState failed", "error", err, "identity", id)
		return models.ConversationState{Identity: id}, fmt.Errorf("failed to load conversation state: %w", err)
	}
	return decodeState(id, data)
}

func (s *RedisStateStore) SaveState(ctx context.Context, st models.ConversationState) error {
	if err := st.Identity.Validate(); err != nil {
		return err
	}
	if st.Pending == models.PendingNone {
		return s.ClearState(ctx, st.Identity)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(st.Identity), data, s.ttl).Err(); err != nil {
		s.logger.Error("RedisStateStore SaveState failed", "error", err, "identity", st.Identity)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) ClearState(ctx context.Context, id models.Identity) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		s.logger.Error("RedisStateStore ClearState failed", "error", err, "identity", id)
		return fmt.Errorf("failed to clear conversation state: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
