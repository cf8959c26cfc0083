package server

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/griffonary/auth"
	"github.com/wfunc/griffonary/broadcast"
	"github.com/wfunc/griffonary/network"
	"github.com/wfunc/griffonary/room"
	"github.com/wfunc/griffonary/session"
	"github.com/wfunc/griffonary/state"
	"github.com/wfunc/griffonary/timer"
	"github.com/wfunc/griffonary/words"
)

// MockConnection feeds scripted packets to the server and records replies.
type MockConnection struct {
	inbound chan *network.Packet
	mu      sync.Mutex
	sent    []network.Packet
	closed  chan struct{}
	once    sync.Once
}

func newMockConnection() *MockConnection {
	return &MockConnection{
		inbound: make(chan *network.Packet, 16),
		closed:  make(chan struct{}),
	}
}

func (m *MockConnection) Send(event string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, network.Packet{Event: event, Data: data})
	return nil
}

func (m *MockConnection) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}

func (m *MockConnection) ReadPacket() (*network.Packet, error) {
	select {
	case p := <-m.inbound:
		return p, nil
	case <-m.closed:
		return nil, io.EOF
	}
}

func (m *MockConnection) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	m.inbound <- &network.Packet{Event: event, Data: data}
}

func (m *MockConnection) find(event string) (network.Packet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Event == event {
			return m.sent[i], true
		}
	}
	return network.Packet{}, false
}

func (m *MockConnection) await(t *testing.T, event string) network.Packet {
	t.Helper()
	var p network.Packet
	require.Eventually(t, func() bool {
		var ok bool
		p, ok = m.find(event)
		return ok
	}, 2*time.Second, 5*time.Millisecond, "never received %s", event)
	return p
}

type testEnv struct {
	server   *GameServer
	rooms    *room.Manager
	dir      *session.Directory
	resolver *auth.JWTResolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog, err := state.NewCatalog(state.Griffonary)
	require.NoError(t, err)
	resolver, err := auth.NewJWTResolver("test-secret")
	require.NoError(t, err)

	dir := session.NewDirectory()
	timers := timer.NewTimerManager()
	t.Cleanup(timers.Close)

	rooms := room.NewRoomManager(room.Deps{
		Broadcaster:     broadcast.NewDispatcher(dir),
		Directory:       dir,
		Scheduler:       timers,
		Words:           words.NewListSource([]string{"dragon", "castle"}, 3),
		Catalog:         catalog,
		DisconnectGrace: time.Minute,
	})
	t.Cleanup(func() { rooms.Close(context.Background()) })

	srv := NewGameServer(Options{RateLimit: 1000, RateBurst: 1000}, rooms, dir, resolver, nil)
	return &testEnv{server: srv, rooms: rooms, dir: dir, resolver: resolver}
}

func (e *testEnv) connect(t *testing.T, id string) (*MockConnection, *session.Session) {
	t.Helper()
	conn := newMockConnection()
	sess := session.NewSession(session.Player{ID: id, Name: strings.ToUpper(id), Role: session.RoleGuest}, conn)
	done := make(chan struct{})
	go func() {
		e.server.Serve(sess)
		close(done)
	}()
	t.Cleanup(func() {
		conn.Close()
		<-done
	})
	require.Eventually(t, func() bool { return e.dir.IsConnected(id) }, time.Second, time.Millisecond)
	return conn, sess
}

func roomCreated(t *testing.T, conn *MockConnection) string {
	t.Helper()
	var created RoomCreated
	require.NoError(t, json.Unmarshal(conn.await(t, network.EventRoomCreated).Data, &created))
	require.NotEmpty(t, created.RoomID)
	return created.RoomID
}

func failReason(t *testing.T, conn *MockConnection, event string) string {
	t.Helper()
	var fail FailEvent
	require.NoError(t, json.Unmarshal(conn.await(t, event).Data, &fail))
	return fail.Reason
}

func TestServer_CreateJoinStart(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")

	alice.push(t, network.EventAskCreateRoom, createRoomRequest{MaxPlayers: 4})
	roomID := roomCreated(t, alice)
	alice.await(t, network.EventRoomSnapshot)

	bob.push(t, network.EventAskJoinRoom, roomRequest{RoomID: roomID})
	bob.await(t, network.EventRoomSnapshot)
	alice.await(t, network.EventPlayerJoinedRoom)

	bob.push(t, network.EventAskStartGame, startGameRequest{TemplateName: "Griffonary"})
	assert.Equal(t, "unauthorized", failReason(t, bob, network.EventFailStartGame))

	alice.push(t, network.EventAskStartGame, startGameRequest{TemplateName: "Griffonary", RoundDurationMs: 60000})
	bob.await(t, network.EventGameStarted)
	bob.await(t, network.EventTimeLimit)

	// starting again is silently ignored
	alice.push(t, network.EventAskStartGame, startGameRequest{TemplateName: "Griffonary"})
	alice.push(t, network.EventHeartbeat, nil)
	time.Sleep(20 * time.Millisecond)
	_, failed := alice.find(network.EventFailStartGame)
	assert.False(t, failed)
}

func TestServer_GuessFlow(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")

	alice.push(t, network.EventAskCreateRoom, nil)
	roomID := roomCreated(t, alice)
	bob.push(t, network.EventAskJoinRoom, roomRequest{RoomID: roomID})
	bob.await(t, network.EventRoomSnapshot)
	alice.push(t, network.EventAskStartGame, startGameRequest{TemplateName: "Griffonary"})

	// whoever got the word draws; the other guesses
	var artist, guesser *MockConnection
	require.Eventually(t, func() bool {
		if _, ok := alice.find(network.EventWordToDraw); ok {
			artist, guesser = alice, bob
			return true
		}
		if _, ok := bob.find(network.EventWordToDraw); ok {
			artist, guesser = bob, alice
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	var word state.WordToDraw
	require.NoError(t, json.Unmarshal(artist.await(t, network.EventWordToDraw).Data, &word))

	artist.push(t, network.EventUploadDrawing, drawingRequest{Bytes: []byte{1, 2, 3}})
	guesser.await(t, network.EventDrawingUpdated)

	guesser.push(t, network.EventUploadDrawing, drawingRequest{Bytes: []byte{1}})
	assert.Equal(t, "unauthorized", failReason(t, guesser, network.EventFailUploadDrawing))

	guesser.push(t, network.EventNewChatMessage, chatRequest{Text: word.Word})
	scored := artist.await(t, network.EventPlayerScored)
	assert.NotEmpty(t, scored.Data)
	// two players: the only guesser found it, so the round rolls over
	artist.await(t, network.EventStopDraw)
}

func TestServer_FailReplies(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")

	alice.push(t, network.EventAskJoinRoom, roomRequest{RoomID: "nope"})
	assert.Equal(t, "not_found", failReason(t, alice, network.EventFailJoinRoom))

	alice.push(t, network.EventNewChatMessage, chatRequest{Text: "hi"})
	assert.Equal(t, "not_found", failReason(t, alice, network.EventFailChatMessage))

	alice.push(t, network.EventAskCreateRoom, createRoomRequest{MaxPlayers: -1})
	assert.Equal(t, "capacity", failReason(t, alice, network.EventFailCreateRoom))

	alice.inbound <- &network.Packet{Event: network.EventAskLeaveRoom, Data: json.RawMessage(`"oops"`)}
	assert.Equal(t, "invalid", failReason(t, alice, network.EventFailLeaveRoom))
}

func TestServer_CreateLeavesPreviousRoom(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")

	alice.push(t, network.EventAskCreateRoom, nil)
	first := roomCreated(t, alice)

	alice.mu.Lock()
	alice.sent = nil
	alice.mu.Unlock()
	alice.push(t, network.EventAskCreateRoom, nil)
	second := roomCreated(t, alice)

	assert.NotEqual(t, first, second)
	_, err := env.rooms.GetRoom(first)
	assert.Error(t, err)
	assert.Equal(t, second, env.dir.RoomOf("alice"))
}

func TestServer_ReconnectResumesRoom(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")
	bob, bobSess := env.connect(t, "bob")

	alice.push(t, network.EventAskCreateRoom, nil)
	roomID := roomCreated(t, alice)
	bob.push(t, network.EventAskJoinRoom, roomRequest{RoomID: roomID})
	bob.await(t, network.EventRoomSnapshot)

	// bob drops; membership survives the grace period
	bob.Close()
	require.Eventually(t, func() bool { return !env.dir.IsConnected("bob") }, time.Second, time.Millisecond)
	assert.Equal(t, roomID, env.dir.RoomOf("bob"))

	again, _ := env.connect(t, bobSess.Player.ID)
	again.await(t, network.EventRoomSnapshot)
	alice.await(t, network.EventPlayerReconnected)

	snap, err := env.rooms.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	assert.Len(t, snap.Players, 2)
}

func TestServer_SupersededConnectionIsClosed(t *testing.T) {
	env := newTestEnv(t)
	first, _ := env.connect(t, "alice")
	second, _ := env.connect(t, "alice")

	select {
	case <-first.closed:
	case <-time.After(time.Second):
		t.Fatal("first connection was not closed")
	}
	// the old read loop exiting must not count as a disconnect
	time.Sleep(20 * time.Millisecond)
	assert.True(t, env.dir.IsConnected("alice"))

	second.push(t, network.EventAskCreateRoom, nil)
	roomCreated(t, second)
}

func TestServer_ExcludeClosesTarget(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")

	alice.push(t, network.EventAskCreateRoom, nil)
	roomID := roomCreated(t, alice)
	bob.push(t, network.EventAskJoinRoom, roomRequest{RoomID: roomID})
	bob.await(t, network.EventRoomSnapshot)

	alice.push(t, network.EventAskExcludePlayer, excludeRequest{PlayerID: "bob"})
	bob.await(t, network.EventExcluded)
	select {
	case <-bob.closed:
	case <-time.After(time.Second):
		t.Fatal("excluded connection was not closed")
	}
	alice.await(t, network.EventPlayerLeftRoom)
	assert.Equal(t, "", env.dir.RoomOf("bob"))
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.server.opts.RateLimit = 0.001
	env.server.opts.RateBurst = 1
	alice, _ := env.connect(t, "alice")

	alice.push(t, network.EventAskJoinRoom, roomRequest{RoomID: "a"})
	alice.push(t, network.EventAskJoinRoom, roomRequest{RoomID: "b"})
	alice.push(t, network.EventAskJoinRoom, roomRequest{RoomID: "c"})
	alice.await(t, network.EventFailJoinRoom)
	time.Sleep(30 * time.Millisecond)

	alice.mu.Lock()
	defer alice.mu.Unlock()
	assert.Len(t, alice.sent, 1)
}

func TestServer_WebSocketAuth(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := env.resolver.Issue(session.Player{ID: "carol", Name: "Carol"}, time.Hour)
	require.NoError(t, err)
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	// malformed frames are skipped, the connection stays usable
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"AskCreateRoom","data":{"maxPlayers":3}}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	seen := map[string]bool{}
	for !seen[network.EventRoomCreated] {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var p network.Packet
		require.NoError(t, json.Unmarshal(data, &p))
		seen[p.Event] = true
	}
	assert.True(t, seen[network.EventRoomSnapshot])
	assert.Equal(t, 1, env.rooms.Count())
}

func TestServer_Healthz(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rooms=0")
}

func TestServer_RoundDurationIsClamped(t *testing.T) {
	s := NewGameServer(Options{MinRoundDuration: 15 * time.Second, MaxRoundDuration: 5 * time.Minute}, nil, nil, nil, nil)
	tests := []struct {
		name string
		ms   int64
		want time.Duration
	}{
		{"template default", 0, 0},
		{"negative", -5000, 0},
		{"too short", 1, 15 * time.Second},
		{"in range", 60000, time.Minute},
		{"too long", 3_600_000, 5 * time.Minute},
		{"overflow", math.MaxInt64, 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.roundDuration(tt.ms))
		})
	}

	defaults := NewGameServer(Options{}, nil, nil, nil, nil)
	assert.Equal(t, 10*time.Second, defaults.roundDuration(1))
	assert.Equal(t, 10*time.Minute, defaults.roundDuration(math.MaxInt64))
}
