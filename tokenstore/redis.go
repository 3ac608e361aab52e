package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/s0up4200/exactonline/exact"
)

// refreshTokenLifetime is how long Exact Online accepts a refresh token
const refreshTokenLifetime = 30 * 24 * time.Hour

// RedisStore shares one token pair between processes through Redis.
// The key is scoped by client ID so several apps can use one instance.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a Redis-backed token store
func NewRedisStore(client redis.UniversalClient, prefix, clientID string) *RedisStore {
	if prefix == "" {
		prefix = "exactonline"
	}
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("%s:token:%s", prefix, clientID),
	}
}

// Key returns the Redis key holding the token
func (s *RedisStore) Key() string {
	return s.key
}

// Load retrieves the token
func (s *RedisStore) Load(ctx context.Context) (*exact.Token, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var tok exact.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &tok, nil
}

// Save stores the token until its refresh token can no longer be used
func (s *RedisStore) Save(ctx context.Context, tok exact.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, tokenTTL(tok, time.Now())).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Delete removes the stored token
func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func tokenTTL(tok exact.Token, now time.Time) time.Duration {
	if tok.Expiry.IsZero() {
		return refreshTokenLifetime
	}
	ttl := tok.Expiry.Sub(now) + refreshTokenLifetime
	if ttl <= 0 {
		return time.Minute
	}
	return ttl
}
