// persistence/interface.go
package persistence

import (
	"context"
	"fmt"

	"github.com/wfunc/griffonary/gameerr"
	"github.com/wfunc/griffonary/models"
)

// Database 数据库接口
type Database interface {
	SaveGameRecord(ctx context.Context, record models.GameRecord) error
	SaveChatMessage(ctx context.Context, msg models.ChatMessage) error
	GetPlayerStats(ctx context.Context, playerID string) (models.PlayerStats, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record %w", gameerr.ErrNotFound)
)
