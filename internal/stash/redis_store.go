// Package stash provides recovery storage for autosave buffers that could
// not be flushed before a session ended.
package stash

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry holds one stashed stream value
type Entry struct {
	Value   json.RawMessage `json:"value"`
	SavedAt time.Time       `json:"saved_at"`
}

// RedisStore implements stash storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed stash store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "stash:",
	}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "stash:",
	}
}

// key generates the Redis key for one document stream
func (s *RedisStore) key(docID, stream string) string {
	return s.prefix + docID + ":" + stream
}

// Put stores one unflushed stream value with expiration
func (s *RedisStore) Put(ctx context.Context, docID, stream string, value json.RawMessage, ttl time.Duration) error {
	entry := Entry{
		Value:   value,
		SavedAt: time.Now(),
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal stash entry: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, s.key(docID, stream), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save stash entry: %w", err)
	}
	return nil
}

// Drain returns every stashed stream for one document and removes the
// entries, so recovered edits are only replayed once.
func (s *RedisStore) Drain(ctx context.Context, docID string) (map[string]json.RawMessage, error) {
	pattern := s.prefix + docID + ":*"
	out := map[string]json.RawMessage{}

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan stash: %w", err)
		}
		for _, key := range keys {
			jsonData, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read stash entry: %w", err)
			}
			var entry Entry
			if err := json.Unmarshal([]byte(jsonData), &entry); err != nil {
				return nil, fmt.Errorf("unmarshal stash entry: %w", err)
			}
			stream := strings.TrimPrefix(key, s.prefix+docID+":")
			out[stream] = entry.Value
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return nil, fmt.Errorf("remove stash entry: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
