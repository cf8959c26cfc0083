// models/models.go
package models

import (
	"time"
)

// GameRecord 一局结束后的结果
type GameRecord struct {
	RoomID    string         `json:"room_id"`
	GameID    string         `json:"game_id"`
	Template  string         `json:"template"`
	Rounds    int            `json:"rounds"`
	Players   []PlayerResult `json:"players"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// PlayerResult 玩家在一局中的得分
type PlayerResult struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Points   int    `json:"points"` // earned during this game
	Total    int    `json:"total"`  // room total after this game
}

// ChatMessage 房间聊天消息
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	PlayerID  string    `json:"player_id"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PlayerStats 玩家历史统计
type PlayerStats struct {
	PlayerID    string `json:"player_id"`
	TotalGames  int    `json:"total_games"`
	Wins        int    `json:"wins"`
	TotalPoints int64  `json:"total_points"`
	BestPoints  int    `json:"best_points"`
}

// Winners returns the ids holding the highest session points; none when
// nobody scored.
func (r GameRecord) Winners() map[string]bool {
	best := 0
	for _, p := range r.Players {
		if p.Points > best {
			best = p.Points
		}
	}
	winners := make(map[string]bool)
	if best == 0 {
		return winners
	}
	for _, p := range r.Players {
		if p.Points == best {
			winners[p.PlayerID] = true
		}
	}
	return winners
}
