package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/griffonary/network"
)

// MockConnection is a test double for the network.Connection interface.
// A non-nil gate blocks every Send until it is closed or the connection is.
type MockConnection struct {
	mu     sync.Mutex
	sent   []string
	closed bool
	gate   chan struct{}
	shut   chan struct{}
	once   sync.Once
}

func (m *MockConnection) Send(event string, data []byte) error {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-m.shutdown():
			return net.ErrClosed
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, event)
	return nil
}
func (m *MockConnection) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.once.Do(func() { close(m.shutdown()) })
	return nil
}

func (m *MockConnection) shutdown() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shut == nil {
		m.shut = make(chan struct{})
	}
	return m.shut
}

func (m *MockConnection) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *MockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

var alice = Player{ID: "alice", Name: "Alice", Role: RoleRegistered}

func TestDirectory_AttachSupersedes(t *testing.T) {
	dir := NewDirectory()

	first := NewSession(alice, &MockConnection{})
	_, superseded := dir.Attach(first)
	assert.Nil(t, superseded)
	assert.True(t, dir.IsConnected("alice"))

	second := NewSession(alice, &MockConnection{})
	_, superseded = dir.Attach(second)
	require.Same(t, first, superseded)

	live, ok := dir.Session("alice")
	require.True(t, ok)
	assert.Same(t, second, live)

	// closing the superseded connection must not disconnect the player
	_, detached := dir.Detach(first)
	assert.False(t, detached)
	assert.True(t, dir.IsConnected("alice"))

	_, detached = dir.Detach(second)
	assert.True(t, detached)
	assert.False(t, dir.IsConnected("alice"))
}

func TestDirectory_RoomSurvivesDetach(t *testing.T) {
	dir := NewDirectory()
	sess := NewSession(alice, &MockConnection{})
	dir.Attach(sess)
	dir.SetRoom("alice", "room-1")

	roomID, detached := dir.Detach(sess)
	assert.True(t, detached)
	assert.Equal(t, "room-1", roomID)
	assert.Equal(t, "room-1", dir.RoomOf("alice"))

	again := NewSession(alice, &MockConnection{})
	roomID, _ = dir.Attach(again)
	assert.Equal(t, "room-1", roomID)
}

func TestDirectory_EntryCollectedWhenIdle(t *testing.T) {
	dir := NewDirectory()
	sess := NewSession(alice, &MockConnection{})
	dir.Attach(sess)
	dir.Detach(sess)

	_, err := dir.Get("alice")
	assert.Error(t, err)
	assert.Equal(t, 0, dir.Online())
}

func TestDirectory_SendToOfflinePlayerIsDropped(t *testing.T) {
	dir := NewDirectory()
	dir.SetRoom("alice", "room-1")

	assert.NoError(t, dir.Send("alice", "PlayerList", []byte(`{}`)))

	conn := &MockConnection{}
	dir.Attach(NewSession(alice, conn))
	require.NoError(t, dir.Send("alice", "PlayerList", []byte(`{}`)))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"PlayerList"}, conn.events())
	}, time.Second, 5*time.Millisecond)
}

func TestDirectory_ConcurrentAttach(t *testing.T) {
	dir := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := NewSession(alice, &MockConnection{})
			dir.Attach(sess)
			dir.Detach(sess)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, dir.Online(), 1)
}

func TestDirectory_KickClosesLiveSession(t *testing.T) {
	dir := NewDirectory()
	conn := &MockConnection{}
	sess := NewSession(alice, conn)
	dir.Attach(sess)

	assert.True(t, dir.Kick("alice"))
	assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	assert.False(t, dir.IsConnected("alice"))

	// the read loop detaching afterwards is not a second disconnect
	_, detached := dir.Detach(sess)
	assert.False(t, detached)
	assert.False(t, dir.Kick("alice"))
}

func TestSession_StalledConnectionDoesNotBlockSend(t *testing.T) {
	conn := &MockConnection{gate: make(chan struct{})}
	sess := NewSession(alice, conn)

	// writePump 卡在第一帧上，其余帧进入队列
	start := time.Now()
	for i := 0; i < sendQueueSize; i++ {
		require.NoError(t, sess.Send("ChatMessage", []byte(`{}`)))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	var err error
	for i := 0; i < 2 && err == nil; i++ {
		err = sess.Send("ChatMessage", []byte(`{}`))
	}
	assert.ErrorIs(t, err, ErrSendQueueFull)
	assert.ErrorIs(t, sess.Send("ChatMessage", nil), ErrSessionClosed)
	assert.Eventually(t, conn.isClosed, 2*flushTimeout, 5*time.Millisecond)
}

func TestSession_CloseFlushesQueuedFrames(t *testing.T) {
	conn := &MockConnection{}
	sess := NewSession(alice, conn)

	require.NoError(t, sess.Send("ScoreList", nil))
	require.NoError(t, sess.Send("Excluded", nil))
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ScoreList", "Excluded"}, conn.events())
}
