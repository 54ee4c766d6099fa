package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "reauth:credential"

// RedisStore keeps the credential in a single Redis string key so that several
// processes can share one session.
type RedisStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisStore returns a Store backed by client. An empty key uses
// "reauth:credential"; ttl <= 0 stores without expiry.
func NewRedisStore(client redis.Cmdable, key string, ttl time.Duration) *RedisStore {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

// Key returns the Redis key holding the credential.
func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Get(ctx context.Context) (Credential, bool, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, s.key, err)
	}
	return Credential(val), val != "", nil
}

func (s *RedisStore) Set(ctx context.Context, cred Credential) error {
	if cred == "" {
		return s.Clear(ctx)
	}
	if err := s.client.Set(ctx, s.key, string(cred), s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStoreUnavailable, s.key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrStoreUnavailable, s.key, err)
	}
	return nil
}
