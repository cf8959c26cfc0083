// room/manager.go
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/wfunc/griffonary/gameerr"
	"github.com/wfunc/griffonary/logger"
	"github.com/wfunc/griffonary/session"
)

// Options configures a new room.
type Options struct {
	MaxPlayers int
}

// Manager 管理所有房间
type Manager struct {
	rooms map[string]*Room
	deps  Deps
	mutex sync.RWMutex
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(deps Deps) *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		deps:  deps.withDefaults(),
	}
}

// CreateRoom starts a room whose sole member and admin is owner.
func (m *Manager) CreateRoom(ctx context.Context, owner session.Player, opts Options) (*Room, error) {
	if opts.MaxPlayers < 1 {
		return nil, fmt.Errorf("max players %d: %w", opts.MaxPlayers, gameerr.ErrCapacity)
	}

	room := newRoom(uuid.New().String(), opts.MaxPlayers, m.deps, m.roomClosed)
	m.mutex.Lock()
	m.rooms[room.ID] = room
	count := len(m.rooms)
	m.mutex.Unlock()
	m.deps.Metrics.SetActiveRooms(count)

	go room.run()

	if err := room.Join(ctx, owner); err != nil {
		room.Close(context.Background())
		return nil, err
	}
	logger.Log.Infof("room %s created by %s (max %d)", room.ID, owner.ID, opts.MaxPlayers)
	return room, nil
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(id string) (*Room, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, ok := m.rooms[id]
	if !ok {
		return nil, gameerr.ErrRoomNotFound
	}
	return room, nil
}

// Snapshot returns the state of room id.
func (m *Manager) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	room, err := m.GetRoom(id)
	if err != nil {
		return Snapshot{}, err
	}
	return room.Snapshot(ctx)
}

// DeleteRoom 关闭并移除房间，重复调用无副作用
func (m *Manager) DeleteRoom(ctx context.Context, id string) error {
	room, err := m.GetRoom(id)
	if err != nil {
		return nil
	}
	if err := room.Close(ctx); err != nil && !errors.Is(err, gameerr.ErrRoomNotFound) {
		return err
	}
	return nil
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// IDs lists the live rooms.
func (m *Manager) IDs() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Close shuts down every room.
func (m *Manager) Close(ctx context.Context) {
	for _, id := range m.IDs() {
		if err := m.DeleteRoom(ctx, id); err != nil {
			logger.Log.Warnf("closing room %s: %v", id, err)
		}
	}
}

// roomClosed runs on the actor goroutine of the closing room.
func (m *Manager) roomClosed(id string) {
	m.mutex.Lock()
	delete(m.rooms, id)
	count := len(m.rooms)
	m.mutex.Unlock()
	m.deps.Metrics.SetActiveRooms(count)
}
