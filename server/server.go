package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/griffonary/auth"
	"github.com/wfunc/griffonary/gameerr"
	"github.com/wfunc/griffonary/logger"
	"github.com/wfunc/griffonary/network"
	"github.com/wfunc/griffonary/room"
	"github.com/wfunc/griffonary/session"
	"golang.org/x/time/rate"
)

const requestTimeout = 5 * time.Second

// Metrics is what the server reports about connections and frames.
type Metrics interface {
	SetOnlinePlayers(count int)
	IncMessagesReceived(event string)
	ObserveMessageLatency(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) SetOnlinePlayers(int)                {}
func (nopMetrics) IncMessagesReceived(string)          {}
func (nopMetrics) ObserveMessageLatency(time.Duration) {}

type Options struct {
	Addr              string
	ReadLimit         int64
	RateLimit         float64
	RateBurst         int
	Heartbeat         time.Duration
	DefaultMaxPlayers int
	// 客户端指定的回合时长会被限制在 [MinRoundDuration, MaxRoundDuration]
	MinRoundDuration time.Duration
	MaxRoundDuration time.Duration
}

// GameServer 接收 websocket 连接并把客户端事件路由到房间
type GameServer struct {
	opts         Options
	upgrader     websocket.Upgrader
	rooms        *room.Manager
	directory    *session.Directory
	resolver     auth.Resolver
	metrics      Metrics
	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewGameServer(opts Options, rooms *room.Manager, directory *session.Directory, resolver auth.Resolver, metrics Metrics) *GameServer {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if opts.DefaultMaxPlayers <= 0 {
		opts.DefaultMaxPlayers = 8
	}
	if opts.MinRoundDuration <= 0 {
		opts.MinRoundDuration = 10 * time.Second
	}
	if opts.MaxRoundDuration < opts.MinRoundDuration {
		opts.MaxRoundDuration = max(10*time.Minute, opts.MinRoundDuration)
	}
	s := &GameServer{
		opts:         opts,
		rooms:        rooms,
		directory:    directory,
		resolver:     resolver,
		metrics:      metrics,
		shutdownChan: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.httpServer = &http.Server{Addr: opts.Addr, Handler: s.Handler()}
	return s
}

func (s *GameServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "rooms=%d online=%d\n", s.rooms.Count(), s.directory.Online())
	})
	return mux
}

func (s *GameServer) Start() error {
	logger.Log.Infof("Game server listening on %s", s.opts.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GameServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	return s.httpServer.Shutdown(ctx)
}

func tokenFrom(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	player, err := s.resolver.Resolve(tokenFrom(r))
	if err != nil {
		logger.Log.Infof("Rejected connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, gameerr.Reason(err), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	if s.opts.ReadLimit > 0 {
		conn.SetReadLimit(s.opts.ReadLimit)
	}

	wsConn := network.NewWSConnection(conn)
	done := make(chan struct{})
	if s.opts.Heartbeat > 0 {
		wsConn.SetHeartbeat(s.opts.Heartbeat)
		go s.keepAlive(wsConn, done)
	}
	defer close(done)

	s.Serve(session.NewSession(player, wsConn))
}

func (s *GameServer) keepAlive(conn *network.WSConnection, done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		case <-done:
			return
		case <-s.shutdownChan:
			return
		}
	}
}

// Serve runs the read loop of an authenticated session until its
// connection fails or is closed.
func (s *GameServer) Serve(sess *session.Session) {
	player := sess.Player
	logger.Log.Infof("New connection from %s, player %s, session %s", sess.Conn.RemoteAddr(), player.ID, sess.GetID())
	s.attach(sess)

	defer func() {
		logger.Log.Infof("Connection closed, player %s, session %s", player.ID, sess.GetID())
		sess.Close()
		s.detach(sess)
	}()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if s.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), max(s.opts.RateBurst, 1))
	}
	extender, _ := sess.Conn.(interface{ ExtendDeadline() })

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		packet, err := sess.Conn.ReadPacket()
		if err != nil {
			if errors.Is(err, network.ErrMalformedPacket) {
				logger.Log.Debugf("player %s sent a malformed frame: %v", player.ID, err)
				continue
			}
			return
		}
		if extender != nil {
			extender.ExtendDeadline()
		}
		sess.Touch()

		if !limiter.Allow() {
			logger.Log.Debugf("player %s rate limited, dropping %s", player.ID, packet.Event)
			continue
		}

		start := time.Now()
		s.metrics.IncMessagesReceived(packet.Event)
		s.handlePacket(sess, packet)
		s.metrics.ObserveMessageLatency(time.Since(start))
	}
}

// attach makes sess the live connection of its player and resumes room
// membership held across a short disconnect.
func (s *GameServer) attach(sess *session.Session) {
	roomID, superseded := s.directory.Attach(sess)
	if superseded != nil {
		logger.Log.Infof("player %s reconnected, closing session %s", sess.Player.ID, superseded.GetID())
		superseded.Close()
	}
	s.metrics.SetOnlinePlayers(s.directory.Online())

	if roomID == "" {
		return
	}
	r, err := s.rooms.GetRoom(roomID)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		err = r.Reconnect(ctx, sess.Player.ID)
		cancel()
	}
	if err != nil {
		logger.Log.Infof("player %s could not resume room %s: %v", sess.Player.ID, roomID, err)
		s.directory.SetRoom(sess.Player.ID, "")
	}
}

func (s *GameServer) detach(sess *session.Session) {
	roomID, detached := s.directory.Detach(sess)
	s.metrics.SetOnlinePlayers(s.directory.Online())
	if !detached || roomID == "" {
		return
	}

	r, err := s.rooms.GetRoom(roomID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := r.Disconnect(ctx, sess.Player.ID); err != nil {
		logger.Log.Infof("disconnect of %s from room %s: %v", sess.Player.ID, roomID, err)
	}
}

// --- 请求负载 ---

type createRoomRequest struct {
	MaxPlayers int `json:"maxPlayers"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type excludeRequest struct {
	PlayerID string `json:"playerId"`
}

type startGameRequest struct {
	TemplateName    string `json:"templateName"`
	RoundDurationMs int64  `json:"roundDurationMs"`
}

type drawingRequest struct {
	Bytes []byte `json:"bytes"`
}

type chatRequest struct {
	Text string `json:"text"`
}

// FailEvent is the payload of every Fail* event.
type FailEvent struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type RoomCreated struct {
	RoomID string `json:"roomId"`
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch packet.Event {
	case network.EventHeartbeat:
	case network.EventAskCreateRoom:
		s.handleCreateRoom(ctx, sess, packet)
	case network.EventAskJoinRoom:
		s.handleJoinRoom(ctx, sess, packet)
	case network.EventAskLeaveRoom:
		s.handleLeaveRoom(ctx, sess, packet)
	case network.EventAskExcludePlayer:
		s.handleExcludePlayer(ctx, sess, packet)
	case network.EventAskStartGame:
		s.handleStartGame(ctx, sess, packet)
	case network.EventUploadDrawing:
		s.handleUploadDrawing(ctx, sess, packet)
	case network.EventNewChatMessage:
		s.handleChatMessage(ctx, sess, packet)
	default:
		logger.Log.Infof("Unknown event %q from player %s", packet.Event, sess.Player.ID)
	}
}

func (s *GameServer) handleCreateRoom(ctx context.Context, sess *session.Session, packet *network.Packet) {
	var req createRoomRequest
	if err := decode(packet, &req); err != nil {
		s.fail(sess, network.EventFailCreateRoom, err)
		return
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = s.opts.DefaultMaxPlayers
	}

	s.leaveCurrent(ctx, sess.Player.ID, "")
	r, err := s.rooms.CreateRoom(ctx, sess.Player, room.Options{MaxPlayers: req.MaxPlayers})
	if err != nil {
		s.fail(sess, network.EventFailCreateRoom, err)
		return
	}

	logger.Log.Infof("Player %s created room %s", sess.Player.ID, r.ID)
	s.reply(sess, network.EventRoomCreated, RoomCreated{RoomID: r.ID})
}

func (s *GameServer) handleJoinRoom(ctx context.Context, sess *session.Session, packet *network.Packet) {
	var req roomRequest
	if err := decode(packet, &req); err != nil {
		s.fail(sess, network.EventFailJoinRoom, err)
		return
	}

	r, err := s.rooms.GetRoom(req.RoomID)
	if err != nil {
		s.fail(sess, network.EventFailJoinRoom, err)
		return
	}
	s.leaveCurrent(ctx, sess.Player.ID, r.ID)
	if err := r.Join(ctx, sess.Player); err != nil {
		s.fail(sess, network.EventFailJoinRoom, err)
	}
}

func (s *GameServer) handleLeaveRoom(ctx context.Context, sess *session.Session, packet *network.Packet) {
	var req roomRequest
	if err := decode(packet, &req); err != nil {
		s.fail(sess, network.EventFailLeaveRoom, err)
		return
	}
	if req.RoomID == "" {
		req.RoomID = s.directory.RoomOf(sess.Player.ID)
	}

	r, err := s.rooms.GetRoom(req.RoomID)
	if err != nil {
		s.fail(sess, network.EventFailLeaveRoom, err)
		return
	}
	if err := r.Leave(ctx, sess.Player.ID); err != nil {
		s.fail(sess, network.EventFailLeaveRoom, err)
	}
}

func (s *GameServer) handleExcludePlayer(ctx context.Context, sess *session.Session, packet *network.Packet) {
	var req excludeRequest
	if err := decode(packet, &req); err != nil {
		s.fail(sess, network.EventFailExcludePlayer, err)
		return
	}
	r, err := s.currentRoom(sess.Player.ID)
	if err == nil {
		err = r.ExcludePlayer(ctx, sess.Player.ID, req.PlayerID)
	}
	if err != nil {
		s.fail(sess, network.EventFailExcludePlayer, err)
	}
}

func (s *GameServer) handleStartGame(ctx context.Context, sess *session.Session, packet *network.Packet) {
	var req startGameRequest
	if err := decode(packet, &req); err != nil {
		s.fail(sess, network.EventFailStartGame, err)
		return
	}
	r, err := s.currentRoom(sess.Player.ID)
	if err == nil {
		opts := room.StartOptions{RoundDuration: s.roundDuration(req.RoundDurationMs)}
		err = r.StartGame(ctx, sess.Player.ID, req.TemplateName, opts)
	}
	switch {
	case err == nil:
	case errors.Is(err, gameerr.ErrGameRunning):
		// 已在进行中的对局静默忽略
		logger.Log.Infof("player %s asked to start a running game", sess.Player.ID)
	default:
		s.fail(sess, network.EventFailStartGame, err)
	}
}

// roundDuration converts a client supplied duration in milliseconds. Zero or
// negative keeps the template default; anything else is clamped.
func (s *GameServer) roundDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	// 先比较毫秒数，避免乘法溢出
	if ms > s.opts.MaxRoundDuration.Milliseconds() {
		return s.opts.MaxRoundDuration
	}
	return max(time.Duration(ms)*time.Millisecond, s.opts.MinRoundDuration)
}

func (s *GameServer) handleUploadDrawing(ctx context.Context, sess *session.Session, packet *network.Packet) {
	var req drawingRequest
	if err := decode(packet, &req); err != nil {
		s.fail(sess, network.EventFailUploadDrawing, err)
		return
	}
	r, err := s.currentRoom(sess.Player.ID)
	if err == nil {
		err = r.UploadDrawing(ctx, sess.Player.ID, req.Bytes)
	}
	if err != nil {
		s.fail(sess, network.EventFailUploadDrawing, err)
	}
}

func (s *GameServer) handleChatMessage(ctx context.Context, sess *session.Session, packet *network.Packet) {
	var req chatRequest
	if err := decode(packet, &req); err != nil {
		s.fail(sess, network.EventFailChatMessage, err)
		return
	}
	r, err := s.currentRoom(sess.Player.ID)
	if err == nil {
		_, err = r.SubmitGuess(ctx, sess.Player.ID, req.Text)
	}
	if err != nil {
		s.fail(sess, network.EventFailChatMessage, err)
	}
}

func (s *GameServer) currentRoom(playerID string) (*room.Room, error) {
	roomID := s.directory.RoomOf(playerID)
	if roomID == "" {
		return nil, fmt.Errorf("player is in no room: %w", gameerr.ErrRoomNotFound)
	}
	return s.rooms.GetRoom(roomID)
}

// leaveCurrent drops the player's membership of any room other than keep.
func (s *GameServer) leaveCurrent(ctx context.Context, playerID, keep string) {
	current := s.directory.RoomOf(playerID)
	if current == "" || current == keep {
		return
	}
	r, err := s.rooms.GetRoom(current)
	if err != nil {
		s.directory.SetRoom(playerID, "")
		return
	}
	if err := r.Leave(ctx, playerID); err != nil {
		logger.Log.Infof("player %s leaving room %s: %v", playerID, current, err)
	}
}

func decode(packet *network.Packet, v interface{}) error {
	if len(packet.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(packet.Data, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", packet.Event, err, gameerr.ErrInvalid)
	}
	return nil
}

func (s *GameServer) fail(sess *session.Session, event string, err error) {
	logger.Log.Infof("player %s: %s: %v", sess.Player.ID, event, err)
	s.reply(sess, event, FailEvent{Reason: gameerr.Reason(err), Message: err.Error()})
}

func (s *GameServer) reply(sess *session.Session, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Errorf("marshal %s: %v", event, err)
		return
	}
	if err := sess.Send(event, data); err != nil {
		logger.Log.Debugf("send %s to %s: %v", event, sess.Player.ID, err)
	}
}
