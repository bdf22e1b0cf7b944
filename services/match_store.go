package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// MatchStore holds the ephemeral match records: per-player pending-match
// pointers (short TTL), the canonical record keyed by match id (long TTL),
// and the short-lived save locks used by result commit.
type MatchStore interface {
	// PutRecord stores value under key with the given TTL, overwriting.
	PutRecord(ctx context.Context, key, value string, ttl time.Duration) error
	// GetRecord returns ("", nil) when the key does not exist.
	GetRecord(ctx context.Context, key string) (string, error)
	DeleteRecord(ctx context.Context, key string) error
	// AcquireLock is an atomic set-if-absent; it reports whether this
	// caller now holds the lock.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

type redisMatchStore struct {
	rdb *redis.Client
}

func NewRedisMatchStore(rdb *redis.Client) MatchStore {
	return &redisMatchStore{rdb: rdb}
}

func (s *redisMatchStore) PutRecord(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *redisMatchStore) GetRecord(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (s *redisMatchStore) DeleteRecord(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *redisMatchStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (s *redisMatchStore) ReleaseLock(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
