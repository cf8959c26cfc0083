package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/griffonary/cache"
	"github.com/wfunc/griffonary/gameerr"
	"github.com/wfunc/griffonary/models"
)

type mockDatabase struct {
	mock.Mock
}

func (m *mockDatabase) SaveGameRecord(ctx context.Context, record models.GameRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockDatabase) SaveChatMessage(ctx context.Context, msg models.ChatMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockDatabase) GetPlayerStats(ctx context.Context, playerID string) (models.PlayerStats, error) {
	args := m.Called(ctx, playerID)
	return args.Get(0).(models.PlayerStats), args.Error(1)
}

func (m *mockDatabase) Close() error { return nil }

type mockLeaderboard struct {
	mock.Mock
}

func (m *mockLeaderboard) SetScore(ctx context.Context, roomID, playerID string, total int) error {
	return m.Called(ctx, roomID, playerID, total).Error(0)
}

func (m *mockLeaderboard) Top(ctx context.Context, roomID string, limit int) ([]cache.LeaderboardEntry, error) {
	args := m.Called(ctx, roomID, limit)
	return args.Get(0).([]cache.LeaderboardEntry), args.Error(1)
}

func (m *mockLeaderboard) Rank(ctx context.Context, roomID, playerID string) (int64, error) {
	args := m.Called(ctx, roomID, playerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockLeaderboard) Clear(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func TestStatsService_GetPlayerStats(t *testing.T) {
	db := new(mockDatabase)
	want := models.PlayerStats{PlayerID: "a", TotalGames: 4, Wins: 1, TotalPoints: 2100, BestPoints: 700}
	db.On("GetPlayerStats", mock.Anything, "a").Return(want, nil)

	svc := NewStatsService(db, nil)
	got, err := svc.GetPlayerStats(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = svc.GetPlayerStats(context.Background(), "")
	assert.ErrorIs(t, err, gameerr.ErrInvalid)
	db.AssertExpectations(t)
}

func TestStatsService_Disabled(t *testing.T) {
	svc := NewStatsService(nil, nil)

	_, err := svc.GetPlayerStats(context.Background(), "a")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = svc.RoomLeaderboard(context.Background(), "r1", 5)
	assert.ErrorIs(t, err, gameerr.ErrNotFound)
}

func TestStatsService_RoomLeaderboardClampsLimit(t *testing.T) {
	lb := new(mockLeaderboard)
	entries := []cache.LeaderboardEntry{{PlayerID: "a", Score: 300, Rank: 1}}
	lb.On("Top", mock.Anything, "r1", 10).Return(entries, nil).Twice()

	svc := NewStatsService(nil, lb)
	got, err := svc.RoomLeaderboard(context.Background(), "r1", 0)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
	_, err = svc.RoomLeaderboard(context.Background(), "r1", 1000)
	require.NoError(t, err)
	lb.AssertExpectations(t)
}
