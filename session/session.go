// session/session.go
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/griffonary/gameerr"
	"github.com/wfunc/griffonary/network"
)

// Role 玩家角色
type Role string

const (
	RoleGuest      Role = "guest"
	RoleRegistered Role = "registered"
	RoleAdmin      Role = "admin"
)

// Player is the stable identity resolved by the auth layer.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

const (
	sendQueueSize = 256
	flushTimeout  = time.Second
)

var (
	// ErrSendQueueFull is returned when a client does not drain its frames
	// fast enough; the session is closed.
	ErrSendQueueFull = errors.New("session send queue full")
	ErrSessionClosed = errors.New("session closed")
)

type frame struct {
	event string
	data  []byte
}

// Session 是一条已认证的连接。出站帧先进入有界队列，由 writePump 单独写出，
// 调用方（房间 actor）永远不会被慢客户端阻塞
type Session struct {
	ID         string
	Player     Player
	Conn       network.Connection
	CreatedAt  time.Time
	LastActive time.Time
	mutex      sync.Mutex

	out       chan frame
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(player Player, conn network.Connection) *Session {
	now := time.Now()
	s := &Session{
		ID:         uuid.New().String(),
		Player:     player,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
		out:        make(chan frame, sendQueueSize),
		done:       make(chan struct{}),
	}
	go s.writePump()
	return s
}

// Send queues a frame without blocking. A full queue closes the session.
func (s *Session) Send(event string, data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.out <- frame{event: event, data: data}:
		s.Touch()
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		// 慢客户端直接断开，已排队的帧丢弃
		s.Close()
		s.Conn.Close()
		return ErrSendQueueFull
	}
}

func (s *Session) writePump() {
	defer s.Conn.Close()
	for {
		select {
		case f := <-s.out:
			if err := s.Conn.Send(f.event, f.data); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.flush()
			return
		}
	}
}

// flush 尽量写出关闭前已排队的帧（如 Excluded），超时由 Close 强制断开
func (s *Session) flush() {
	for {
		select {
		case f := <-s.out:
			if err := s.Conn.Send(f.event, f.data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Touch records inbound or outbound activity.
func (s *Session) Touch() {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) GetID() string {
	return s.ID
}

// Close stops the session. Frames already queued are flushed before the
// connection is closed, bounded by flushTimeout; Close itself never waits on
// the network.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		time.AfterFunc(flushTimeout, func() { s.Conn.Close() })
	})
	return nil
}

// entry 保存单个玩家的在线槽位，mu 只保护这一个玩家
type entry struct {
	mu      sync.Mutex
	player  Player
	session *Session
	roomID  string
	dead    bool
}

// Directory tracks, per player id, the single live session and the room the
// player currently belongs to. It is shared by every room.
type Directory struct {
	entries map[string]*entry
	mutex   sync.RWMutex
}

func NewDirectory() *Directory {
	return &Directory{
		entries: make(map[string]*entry),
	}
}

func (d *Directory) lookup(playerID string) (*entry, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	e, ok := d.entries[playerID]
	return e, ok
}

func (d *Directory) lookupOrCreate(player Player) *entry {
	if e, ok := d.lookup(player.ID); ok {
		return e
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if e, ok := d.entries[player.ID]; ok {
		return e
	}
	e := &entry{player: player}
	d.entries[player.ID] = e
	return e
}

// acquire returns the locked, still registered entry of player.
func (d *Directory) acquire(player Player) *entry {
	for {
		e := d.lookupOrCreate(player)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// Attach makes sess the live session of its player. A previous live session
// is superseded and returned so the caller can close it.
func (d *Directory) Attach(sess *Session) (roomID string, superseded *Session) {
	e := d.acquire(sess.Player)
	defer e.mu.Unlock()

	superseded = e.session
	e.player = sess.Player
	e.session = sess
	return e.roomID, superseded
}

// Detach clears the live slot if sess is still the current session. It
// reports false for a superseded session, whose close must not count as a
// disconnect of the player.
func (d *Directory) Detach(sess *Session) (roomID string, detached bool) {
	e, ok := d.lookup(sess.Player.ID)
	if !ok {
		return "", false
	}

	e.mu.Lock()
	if e.session != sess {
		e.mu.Unlock()
		return "", false
	}
	e.session = nil
	roomID = e.roomID
	e.mu.Unlock()

	d.gc(sess.Player.ID)
	return roomID, true
}

// SetRoom sets or clears (roomID == "") the room of a player.
func (d *Directory) SetRoom(playerID, roomID string) {
	if _, ok := d.lookup(playerID); !ok && roomID == "" {
		return
	}

	e := d.acquire(Player{ID: playerID})
	e.roomID = roomID
	e.mu.Unlock()

	if roomID == "" {
		d.gc(playerID)
	}
}

// RoomOf returns the room the player belongs to, or "".
func (d *Directory) RoomOf(playerID string) string {
	e, ok := d.lookup(playerID)
	if !ok {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roomID
}

func (d *Directory) Get(playerID string) (Player, error) {
	e, ok := d.lookup(playerID)
	if !ok {
		return Player{}, gameerr.ErrPlayerNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.player, nil
}

// IsConnected reports whether the player has a live session.
func (d *Directory) IsConnected(playerID string) bool {
	e, ok := d.lookup(playerID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Session returns the live session of the player.
func (d *Directory) Session(playerID string) (*Session, bool) {
	e, ok := d.lookup(playerID)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, e.session != nil
}

// Send 向玩家当前连接发送，离线玩家静默丢弃
func (d *Directory) Send(playerID, event string, data []byte) error {
	sess, ok := d.Session(playerID)
	if !ok {
		return nil
	}
	return sess.Send(event, data)
}

// Kick 关闭玩家当前连接并清空在线槽位
func (d *Directory) Kick(playerID string) bool {
	e, ok := d.lookup(playerID)
	if !ok {
		return false
	}

	e.mu.Lock()
	sess := e.session
	e.session = nil
	e.mu.Unlock()
	if sess == nil {
		return false
	}

	sess.Close()
	d.gc(playerID)
	return true
}

// Online returns the number of players with a live session.
func (d *Directory) Online() int {
	d.mutex.RLock()
	entries := make([]*entry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	d.mutex.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.session != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// gc drops an entry that has neither a session nor a room.
func (d *Directory) gc(playerID string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	e, ok := d.entries[playerID]
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil && e.roomID == "" {
		e.dead = true
		delete(d.entries, playerID)
	}
}
