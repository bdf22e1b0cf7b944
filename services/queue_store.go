package services

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScoredMember is one sorted-set member with its score (the player rating).
type ScoredMember struct {
	Member string
	Score  float64
}

// QueueStore is the ephemeral, score-ordered queue per (mode, category).
// Backed by a Redis sorted set in production and by an in-memory fake in
// tests; callers must not assume a specific backing.
//
// The at-most-one-entry-per-player-per-key invariant is caller discipline:
// the matchmaker scans and removes a player's stale members before
// re-inserting.
type QueueStore interface {
	Enqueue(ctx context.Context, key, member string, score float64) error
	// Dequeue reports how many members were removed; 0 means the member
	// was already gone, which callers use to detect lost races.
	Dequeue(ctx context.Context, key, member string) (int64, error)
	RangeByScore(ctx context.Context, key string, min, max float64) ([]ScoredMember, error)
	Rank(ctx context.Context, key, member string) (int64, error)
	TouchExpiry(ctx context.Context, key string, ttl time.Duration) error
}

type redisQueueStore struct {
	rdb *redis.Client
}

func NewRedisQueueStore(rdb *redis.Client) QueueStore {
	return &redisQueueStore{rdb: rdb}
}

func (s *redisQueueStore) Enqueue(ctx context.Context, key, member string, score float64) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *redisQueueStore) Dequeue(ctx context.Context, key, member string) (int64, error) {
	return s.rdb.ZRem(ctx, key, member).Result()
}

func (s *redisQueueStore) RangeByScore(ctx context.Context, key string, min, max float64) ([]ScoredMember, error) {
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, ScoredMember{Member: member, Score: z.Score})
	}
	return out, nil
}

func (s *redisQueueStore) Rank(ctx context.Context, key, member string) (int64, error) {
	rank, err := s.rdb.ZRank(ctx, key, member).Result()
	if err == redis.Nil {
		return -1, nil
	}
	return rank, err
}

func (s *redisQueueStore) TouchExpiry(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// ZRANGEBYSCORE takes string bounds. Scores are whole ratings, so -1
// precision keeps them readable in redis-cli.
func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
