package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key holding the last message when no key is configured.
const DefaultRedisKey = "nbpilot:last_msg"

// RedisStore keeps the single message slot in one Redis key so that several
// relay replicas share it. A missing key means the slot is empty.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to the Redis instance at url (redis://...).
func NewRedisStore(url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		key:    key,
	}, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the stored message, if any.
func (s *RedisStore) Get(ctx context.Context) (Message, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("redis get: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, false, fmt.Errorf("corrupt message in redis: %w", err)
	}
	return msg, true, nil
}

// Set overwrites the stored message.
func (s *RedisStore) Set(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
