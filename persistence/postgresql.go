// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/wfunc/griffonary/models"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"
)

// PostgreSQL 基于 database/sql + lib/pq 的实现，不依赖 GORM
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", DSN(host, port, user, password, dbname))
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构，与 GORM 模型保持一致
func initTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS game_records (
            id BIGSERIAL PRIMARY KEY,
            room_id VARCHAR(64) NOT NULL,
            game_id VARCHAR(64) UNIQUE NOT NULL,
            template VARCHAR(100) NOT NULL,
            rounds INTEGER NOT NULL DEFAULT 0,
            started_at TIMESTAMPTZ NOT NULL,
            ended_at TIMESTAMPTZ NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            deleted_at TIMESTAMPTZ
        )`,
		`CREATE TABLE IF NOT EXISTS player_results (
            id BIGSERIAL PRIMARY KEY,
            game_record_id BIGINT NOT NULL REFERENCES game_records(id),
            player_id VARCHAR(64) NOT NULL,
            name VARCHAR(100),
            points INTEGER NOT NULL DEFAULT 0,
            total INTEGER NOT NULL DEFAULT 0,
            winner BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            deleted_at TIMESTAMPTZ
        )`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
            id VARCHAR(64) PRIMARY KEY,
            room_id VARCHAR(64) NOT NULL,
            player_id VARCHAR(64) NOT NULL,
            name VARCHAR(100),
            text TEXT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		// 创建索引以提高查询性能
		`CREATE INDEX IF NOT EXISTS idx_game_records_room_id ON game_records(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_player_results_player_id ON player_results(player_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_room_id ON chat_messages(room_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveGameRecord 在一个事务内写入对局和每个玩家的结果
func (p *PostgreSQL) SaveGameRecord(ctx context.Context, record models.GameRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
        INSERT INTO game_records (room_id, game_id, template, rounds, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id`,
		record.RoomID, record.GameID, record.Template, record.Rounds, record.StartedAt, record.EndedAt,
	).Scan(&id)
	if err != nil {
		return err
	}

	winners := record.Winners()
	for _, r := range record.Players {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO player_results (game_record_id, player_id, name, points, total, winner)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			id, r.PlayerID, r.Name, r.Points, r.Total, winners[r.PlayerID])
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveChatMessage 保存聊天消息，重复 id 忽略
func (p *PostgreSQL) SaveChatMessage(ctx context.Context, msg models.ChatMessage) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO chat_messages (id, room_id, player_id, name, text, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.RoomID, msg.PlayerID, msg.Name, msg.Text, msg.CreatedAt)
	return err
}

func (p *PostgreSQL) GetPlayerStats(ctx context.Context, playerID string) (models.PlayerStats, error) {
	stats := models.PlayerStats{PlayerID: playerID}
	err := p.db.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN winner THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(points), 0),
               COALESCE(MAX(points), 0)
        FROM player_results
        WHERE player_id = $1 AND deleted_at IS NULL`, playerID,
	).Scan(&stats.TotalGames, &stats.Wins, &stats.TotalPoints, &stats.BestPoints)
	if err != nil {
		return models.PlayerStats{}, err
	}
	if stats.TotalGames == 0 {
		return models.PlayerStats{}, ErrRecordNotFound
	}
	return stats, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
