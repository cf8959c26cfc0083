// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormGameRecord 游戏记录表
type GormGameRecord struct {
	gorm.Model
	RoomID    string             `gorm:"index;not null"`
	GameID    string             `gorm:"uniqueIndex;not null"`
	Template  string             `gorm:"not null"`
	Rounds    int                `gorm:"default:0"`
	StartedAt time.Time          `gorm:"not null"`
	EndedAt   time.Time          `gorm:"index;not null"`
	Results   []GormPlayerResult `gorm:"foreignKey:GameRecordID"`
}

func (GormGameRecord) TableName() string { return "game_records" }

// GormPlayerResult 每局每个玩家一行，便于统计
type GormPlayerResult struct {
	gorm.Model
	GameRecordID uint   `gorm:"index;not null"`
	PlayerID     string `gorm:"index;not null"`
	Name         string
	Points       int  `gorm:"default:0"`
	Total        int  `gorm:"default:0"`
	Winner       bool `gorm:"default:false"`
}

func (GormPlayerResult) TableName() string { return "player_results" }

// GormChatMessage 聊天记录表
type GormChatMessage struct {
	ID        string    `gorm:"primaryKey"`
	RoomID    string    `gorm:"index;not null"`
	PlayerID  string    `gorm:"index;not null"`
	Name      string
	Text      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (GormChatMessage) TableName() string { return "chat_messages" }
