package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, 60*time.Second, cfg.Game.DisconnectGrace)
	assert.Equal(t, 8, cfg.Game.DefaultMaxPlayers)
	assert.Equal(t, 10*time.Second, cfg.Game.MinRoundDuration)
	assert.Equal(t, 10*time.Minute, cfg.Game.MaxRoundDuration)
	assert.NotEmpty(t, cfg.Game.Words)
	require.Len(t, cfg.Game.Templates, 1)

	tpl := cfg.Game.Templates[0]
	assert.Equal(t, "Griffonary", tpl.Name)
	assert.Equal(t, 90*time.Second, tpl.RoundDuration)
	assert.Equal(t, 50, tpl.PointStep)
	assert.Equal(t, 300, tpl.PointsMax)
	assert.True(t, tpl.WithGuesses)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Server.Heartbeat)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 6*time.Hour, cfg.Redis.TTL)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  http_address: ":7000"
game:
  disconnect_grace: 15s
  max_round_duration: 3m
  words: [cat, dog]
  templates:
    - name: Quick
      round_duration: 20s
      point_step: 10
      points_max: 100
      with_guesses: true
database:
  enabled: true
  driver: pq
  postgres:
    host: db
    port: 6543
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.HTTPAddress)
	assert.Equal(t, 15*time.Second, cfg.Game.DisconnectGrace)
	assert.Equal(t, 3*time.Minute, cfg.Game.MaxRoundDuration)
	assert.Equal(t, []string{"cat", "dog"}, cfg.Game.Words)
	require.Len(t, cfg.Game.Templates, 1)
	assert.Equal(t, "Quick", cfg.Game.Templates[0].Name)
	assert.Equal(t, 20*time.Second, cfg.Game.Templates[0].RoundDuration)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "pq", cfg.Database.Driver)
	assert.Equal(t, "db", cfg.Database.Postgres.Host)
	assert.Equal(t, 6543, cfg.Database.Postgres.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}
