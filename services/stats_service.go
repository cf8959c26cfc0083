// services/stats_service.go
package services

import (
	"context"
	"fmt"

	"github.com/wfunc/griffonary/cache"
	"github.com/wfunc/griffonary/gameerr"
	"github.com/wfunc/griffonary/models"
	"github.com/wfunc/griffonary/persistence"
)

var ErrDisabled = fmt.Errorf("persistence disabled: %w", gameerr.ErrNotFound)

// StatsService answers read-only questions about finished games and live
// room leaderboards. Either backend may be nil when disabled.
type StatsService struct {
	db          persistence.Database
	leaderboard cache.Leaderboard
}

func NewStatsService(db persistence.Database, lb cache.Leaderboard) *StatsService {
	return &StatsService{db: db, leaderboard: lb}
}

// GetPlayerStats 获取玩家历史统计
func (s *StatsService) GetPlayerStats(ctx context.Context, playerID string) (models.PlayerStats, error) {
	if s.db == nil {
		return models.PlayerStats{}, ErrDisabled
	}
	if playerID == "" {
		return models.PlayerStats{}, fmt.Errorf("empty player id: %w", gameerr.ErrInvalid)
	}
	return s.db.GetPlayerStats(ctx, playerID)
}

// RoomLeaderboard returns the top limit scores mirrored for roomID.
func (s *StatsService) RoomLeaderboard(ctx context.Context, roomID string, limit int) ([]cache.LeaderboardEntry, error) {
	if s.leaderboard == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return s.leaderboard.Top(ctx, roomID, limit)
}
