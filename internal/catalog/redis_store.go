package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces catalog keys in a shared Redis
const DefaultRedisPrefix = "nfse:catalog:"

// RedisStore keeps entries in Redis and lets Redis expire them
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// ConnectRedis builds a client from a redis:// URL or a bare host:port
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is empty")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return redis.NewClient(&redis.Options{Addr: redisURL}), nil
	}
	return redis.NewClient(opt), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out Entry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RedisStore) Put(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+entry.Key, raw, entry.TTL).Err()
}
