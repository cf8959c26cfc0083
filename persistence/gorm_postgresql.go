// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wfunc/griffonary/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// DSN builds the key/value connection string shared by both drivers.
func DSN(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(DSN(host, port, user, password, dbname)), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGormStore(db)
}

// NewGormStore wraps an open gorm handle and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormPostgreSQL, error) {
	if err := autoMigrate(db); err != nil {
		return nil, err
	}
	return &GormPostgreSQL{db: db}, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormGameRecord{},
		&models.GormPlayerResult{},
		&models.GormChatMessage{},
	)
}

// SaveGameRecord 保存一局结果及每个玩家的得分行
func (p *GormPostgreSQL) SaveGameRecord(ctx context.Context, record models.GameRecord) error {
	winners := record.Winners()
	row := models.GormGameRecord{
		RoomID:    record.RoomID,
		GameID:    record.GameID,
		Template:  record.Template,
		Rounds:    record.Rounds,
		StartedAt: record.StartedAt,
		EndedAt:   record.EndedAt,
	}
	for _, r := range record.Players {
		row.Results = append(row.Results, models.GormPlayerResult{
			PlayerID: r.PlayerID,
			Name:     r.Name,
			Points:   r.Points,
			Total:    r.Total,
			Winner:   winners[r.PlayerID],
		})
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
}

// SaveChatMessage 保存聊天消息
func (p *GormPostgreSQL) SaveChatMessage(ctx context.Context, msg models.ChatMessage) error {
	return p.db.WithContext(ctx).Create(&models.GormChatMessage{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		PlayerID:  msg.PlayerID,
		Name:      msg.Name,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}).Error
}

// GetPlayerStats 汇总玩家的历史对局
func (p *GormPostgreSQL) GetPlayerStats(ctx context.Context, playerID string) (models.PlayerStats, error) {
	var row struct {
		TotalGames  int
		Wins        int
		TotalPoints int64
		BestPoints  int
	}
	err := p.db.WithContext(ctx).
		Model(&models.GormPlayerResult{}).
		Select(`COUNT(*) AS total_games,
			COALESCE(SUM(CASE WHEN winner THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(SUM(points), 0) AS total_points,
			COALESCE(MAX(points), 0) AS best_points`).
		Where("player_id = ?", playerID).
		Scan(&row).Error
	if err != nil {
		return models.PlayerStats{}, err
	}
	if row.TotalGames == 0 {
		return models.PlayerStats{}, ErrRecordNotFound
	}

	return models.PlayerStats{
		PlayerID:    playerID,
		TotalGames:  row.TotalGames,
		Wins:        row.Wins,
		TotalPoints: row.TotalPoints,
		BestPoints:  row.BestPoints,
	}, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
