package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brainforce/apiserver/types"
	"github.com/redis/go-redis/v9"
)

const leaderboardKey = "brainforce:leaderboard"

// LeaderboardCache stores the serialized leaderboard in Redis. A nil
// *LeaderboardCache, or one without a client, behaves as a permanent miss.
type LeaderboardCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLeaderboardCache(rdb *redis.Client, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LeaderboardCache{rdb: rdb, ttl: ttl}
}

// Get reports whether a cached leaderboard was found.
func (c *LeaderboardCache) Get(ctx context.Context) ([]types.LeaderboardEntry, bool, error) {
	if c == nil || c.rdb == nil {
		return nil, false, nil
	}
	data, err := c.rdb.Get(ctx, leaderboardKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("leaderboard get: %w", err)
	}

	var entries []types.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, fmt.Errorf("leaderboard decode: %w", err)
	}
	return entries, true, nil
}

func (c *LeaderboardCache) Set(ctx context.Context, entries []types.LeaderboardEntry) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("leaderboard encode: %w", err)
	}
	if err := c.rdb.Set(ctx, leaderboardKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("leaderboard set: %w", err)
	}
	return nil
}

func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, leaderboardKey).Err(); err != nil {
		return fmt.Errorf("leaderboard del: %w", err)
	}
	return nil
}
