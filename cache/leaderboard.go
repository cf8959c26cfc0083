// Package cache mirrors live room scores into redis sorted sets so that
// external tools can read a room leaderboard without going through a room.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Leaderboard handles Redis ZSET operations for per-room scores.
type Leaderboard interface {
	SetScore(ctx context.Context, roomID, playerID string, total int) error
	Top(ctx context.Context, roomID string, limit int) ([]LeaderboardEntry, error)
	Rank(ctx context.Context, roomID, playerID string) (int64, error)
	Clear(ctx context.Context, roomID string) error
}

type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

type leaderboard struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewLeaderboard keeps each room key alive for ttl after its last update.
func NewLeaderboard(client redis.Cmdable, ttl time.Duration) Leaderboard {
	return &leaderboard{client: client, ttl: ttl}
}

func key(roomID string) string {
	return fmt.Sprintf("room:%s:lb", roomID)
}

// SetScore stores the running total; totals only grow so ZADD GT keeps the
// larger value when updates arrive out of order.
func (l *leaderboard) SetScore(ctx context.Context, roomID, playerID string, total int) error {
	k := key(roomID)
	pipe := l.client.TxPipeline()
	pipe.ZAddGT(ctx, k, redis.Z{Score: float64(total), Member: playerID})
	if l.ttl > 0 {
		pipe.Expire(ctx, k, l.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (l *leaderboard) Top(ctx context.Context, roomID string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	results, err := l.client.ZRevRangeWithScores(ctx, key(roomID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, len(results))
	for i, z := range results {
		member, _ := z.Member.(string)
		entries[i] = LeaderboardEntry{
			PlayerID: member,
			Score:    int(z.Score),
			Rank:     i + 1,
		}
	}
	return entries, nil
}

// Rank is 1-indexed; -1 when the player has no score in the room.
func (l *leaderboard) Rank(ctx context.Context, roomID, playerID string) (int64, error) {
	rank, err := l.client.ZRevRank(ctx, key(roomID), playerID).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return rank + 1, nil
}

func (l *leaderboard) Clear(ctx context.Context, roomID string) error {
	return l.client.Del(ctx, key(roomID)).Err()
}
