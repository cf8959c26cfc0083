// room/room.go
package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/griffonary/gameerr"
	"github.com/wfunc/griffonary/logger"
	"github.com/wfunc/griffonary/models"
	"github.com/wfunc/griffonary/network"
	"github.com/wfunc/griffonary/session"
	"github.com/wfunc/griffonary/state"
	"github.com/wfunc/griffonary/timer"
	"github.com/wfunc/griffonary/words"
	"go.uber.org/zap"
)

// RoomStatus 表示房间的业务状态
type RoomStatus int

const (
	StatusWaiting RoomStatus = iota
	StatusGaming
	StatusClosed
)

func (s RoomStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusGaming:
		return "gaming"
	default:
		return "closed"
	}
}

const (
	inboxSize        = 256
	chatHistory      = 50
	wordLookupBudget = 3 * time.Second
)

// Deps are the collaborators shared by every room.
type Deps struct {
	Broadcaster     Broadcaster
	Directory       Directory
	Scheduler       timer.Scheduler
	Words           words.Source
	Catalog         *state.Catalog
	Recorder        Recorder
	Metrics         Metrics
	DisconnectGrace time.Duration
	MaxDrawingBytes int
	RecentWords     int
	Clock           func() time.Time
	Rand            *rand.Rand
}

func (d Deps) withDefaults() Deps {
	if d.Recorder == nil {
		d.Recorder = NopRecorder{}
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.DisconnectGrace <= 0 {
		d.DisconnectGrace = 60 * time.Second
	}
	if d.MaxDrawingBytes <= 0 {
		d.MaxDrawingBytes = 1 << 20
	}
	if d.RecentWords <= 0 {
		d.RecentWords = 20
	}
	return d
}

// StartOptions tunes a game started in a room.
type StartOptions struct {
	RoundDuration time.Duration
}

// PlayerView is one entry of PlayerList and RoomSnapshot.
type PlayerView struct {
	session.Player
	Score     int  `json:"score"`
	Connected bool `json:"connected"`
	Admin     bool `json:"admin"`
	Artist    bool `json:"artist"`
	Guessed   bool `json:"guessed"`
}

// Snapshot is the full room state sent to a joining or returning player.
type Snapshot struct {
	ID         string               `json:"id"`
	Status     string               `json:"status"`
	MaxPlayers int                  `json:"maxPlayers"`
	Admin      string               `json:"admin"`
	Players    []PlayerView         `json:"players"`
	Game       *state.GameView      `json:"game,omitempty"`
	Messages   []models.ChatMessage `json:"messages"`
	CreatedAt  time.Time            `json:"createdAt"`
}

type PlayerEvent struct {
	Player session.Player `json:"player"`
	Reason string         `json:"reason,omitempty"`
}

type ChatEvent struct {
	PlayerID string    `json:"player"`
	Name     string    `json:"name"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

type DrawingEvent struct {
	PlayerID string `json:"player"`
	Bytes    []byte `json:"bytes"`
}

type ExcludedEvent struct {
	RoomID string `json:"roomId"`
}

type command struct {
	name  string
	fn    func(r *Room) error
	reply chan error
}

// Room 是游戏房间的核心结构。所有状态只在 run 所在的 goroutine 中修改
type Room struct {
	ID         string
	MaxPlayers int
	CreatedAt  time.Time

	members     []string
	players     map[string]session.Player
	admin       string
	game        *state.Game
	ledger      *state.Ledger
	recentWords []string
	messages    []models.ChatMessage
	timers      map[string]int64 // scheduler key -> token of the live task
	timerSeq    int64
	closed      bool

	deps     Deps
	log      *zap.SugaredLogger
	inbox    chan command
	done     chan struct{}
	onClosed func(roomID string)
}

func newRoom(id string, maxPlayers int, deps Deps, onClosed func(string)) *Room {
	deps = deps.withDefaults()
	return &Room{
		ID:         id,
		MaxPlayers: maxPlayers,
		CreatedAt:  deps.Clock(),
		players:    make(map[string]session.Player),
		ledger:     state.NewLedger(),
		timers:     make(map[string]int64),
		deps:       deps,
		log:        logger.Log.With("room_id", id),
		inbox:      make(chan command, inboxSize),
		done:       make(chan struct{}),
		onClosed:   onClosed,
	}
}

// --- actor ---

func (r *Room) run() {
	defer close(r.done)
	for cmd := range r.inbox {
		err := r.apply(cmd)
		if cmd.reply != nil {
			cmd.reply <- err
		}
		if r.closed {
			if r.onClosed != nil {
				r.onClosed(r.ID)
			}
			return
		}
	}
}

func (r *Room) apply(cmd command) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("%s panicked: %v", cmd.name, p)
			err = fmt.Errorf("%s: internal error", cmd.name)
		}
	}()

	err = cmd.fn(r)
	switch {
	case err == nil:
	case errors.Is(err, gameerr.ErrStateConflict):
		r.log.Infof("%s ignored: %v", cmd.name, err)
	default:
		r.log.Warnf("%s failed: %v", cmd.name, err)
	}
	return err
}

// do queues fn on the actor and waits for its result.
func (r *Room) do(ctx context.Context, name string, fn func(r *Room) error) error {
	cmd := command{name: name, fn: fn, reply: make(chan error, 1)}
	select {
	case r.inbox <- cmd:
	case <-r.done:
		return gameerr.ErrRoomNotFound
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-r.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return gameerr.ErrRoomNotFound
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting; used by timer callbacks.
func (r *Room) post(name string, fn func(r *Room) error) {
	select {
	case r.inbox <- command{name: name, fn: fn}:
	case <-r.done:
	}
}

// Done is closed once the room actor has stopped.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// --- public operations, safe from any goroutine ---

func (r *Room) Join(ctx context.Context, player session.Player) error {
	return r.do(ctx, "join", func(r *Room) error { return r.handleJoin(player) })
}

func (r *Room) Leave(ctx context.Context, playerID string) error {
	return r.do(ctx, "leave", func(r *Room) error { return r.remove(playerID, "left") })
}

// Disconnect starts the grace period of a member whose connection dropped.
func (r *Room) Disconnect(ctx context.Context, playerID string) error {
	return r.do(ctx, "disconnect", func(r *Room) error { return r.handleDisconnect(playerID) })
}

// Reconnect resumes a member after a new connection was attached.
func (r *Room) Reconnect(ctx context.Context, playerID string) error {
	return r.do(ctx, "reconnect", func(r *Room) error { return r.handleReconnect(playerID) })
}

func (r *Room) StartGame(ctx context.Context, requester, templateName string, opts StartOptions) error {
	return r.do(ctx, "start_game", func(r *Room) error { return r.handleStartGame(requester, templateName, opts) })
}

// SubmitGuess routes a chat line through guess evaluation.
func (r *Room) SubmitGuess(ctx context.Context, playerID, text string) (state.Verdict, error) {
	var verdict state.Verdict
	err := r.do(ctx, "guess", func(r *Room) error {
		v, err := r.handleGuess(playerID, text)
		verdict = v
		return err
	})
	return verdict, err
}

func (r *Room) UploadDrawing(ctx context.Context, playerID string, data []byte) error {
	return r.do(ctx, "upload_drawing", func(r *Room) error { return r.handleDrawing(playerID, data) })
}

func (r *Room) ExcludePlayer(ctx context.Context, requester, target string) error {
	return r.do(ctx, "exclude", func(r *Room) error { return r.handleExclude(requester, target) })
}

// RoundTimeout ends the on going round as if its deadline fired.
func (r *Room) RoundTimeout(ctx context.Context) error {
	return r.do(ctx, "round_timeout", func(r *Room) error {
		if r.game != nil {
			r.game.EndRound(r)
		}
		return nil
	})
}

func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := r.do(ctx, "snapshot", func(r *Room) error {
		snap = r.snapshot()
		return nil
	})
	return snap, err
}

// Close removes every member and stops the actor.
func (r *Room) Close(ctx context.Context) error {
	return r.do(ctx, "close", func(r *Room) error {
		for _, id := range append([]string(nil), r.members...) {
			r.detachMember(id)
		}
		r.members = nil
		r.shutdown()
		return nil
	})
}

// --- handlers, run on the actor goroutine ---

func (r *Room) handleJoin(player session.Player) error {
	if r.isMember(player.ID) {
		return r.handleReconnect(player.ID)
	}
	if len(r.members) >= r.MaxPlayers {
		return gameerr.ErrRoomFull
	}

	r.members = append(r.members, player.ID)
	r.players[player.ID] = player
	r.deps.Directory.SetRoom(player.ID, r.ID)
	r.deps.Broadcaster.Track(r.ID, player.ID)
	r.log.Infof("player %s joined (%d/%d)", player.ID, len(r.members), r.MaxPlayers)

	if r.admin == "" {
		r.admin = player.ID
	}
	r.Emit(network.EventPlayerJoinedRoom, PlayerEvent{Player: player})
	r.EmitTo(player.ID, network.EventRoomSnapshot, r.snapshot())
	if r.game != nil {
		r.EmitPlayerList()
	}
	return nil
}

func (r *Room) handleDisconnect(playerID string) error {
	if !r.isMember(playerID) {
		return gameerr.ErrPlayerNotFound
	}
	if r.deps.Directory.IsConnected(playerID) {
		// a new connection was attached before this disconnect got here
		return nil
	}
	r.log.Infof("player %s disconnected, removal in %s", playerID, r.deps.DisconnectGrace)
	r.Schedule(removalKey(playerID), r.deps.DisconnectGrace, func() {
		if err := r.remove(playerID, "timeout"); err != nil {
			r.log.Warnf("grace removal of %s: %v", playerID, err)
		}
	})
	r.EmitPlayerList()
	return nil
}

func (r *Room) handleReconnect(playerID string) error {
	if !r.isMember(playerID) {
		return gameerr.ErrPlayerNotFound
	}
	r.Cancel(removalKey(playerID))
	r.log.Infof("player %s reconnected", playerID)

	r.Emit(network.EventPlayerReconnected, PlayerEvent{Player: r.players[playerID]})
	r.EmitTo(playerID, network.EventRoomSnapshot, r.snapshot())
	if r.game != nil {
		if word, limit, ok := r.game.ArtistReplay(r, playerID); ok {
			r.EmitTo(playerID, network.EventWordToDraw, word)
			r.EmitTo(playerID, network.EventTimeLimit, limit)
		} else if limit, ok := r.game.TimeLimit(r); ok {
			r.EmitTo(playerID, network.EventTimeLimit, limit)
		}
	}
	r.EmitPlayerList()
	return nil
}

func (r *Room) handleStartGame(requester, templateName string, opts StartOptions) error {
	if requester != r.admin {
		return gameerr.ErrNotAdmin
	}
	if r.game != nil && r.game.Running {
		return gameerr.ErrGameRunning
	}
	tpl, err := r.deps.Catalog.Lookup(templateName)
	if err != nil {
		return err
	}

	r.game = state.NewGame(tpl, r.ledger, state.Options{RoundDuration: opts.RoundDuration, Rand: r.deps.Rand})
	r.game.Start(r)
	return nil
}

func (r *Room) handleGuess(playerID, text string) (state.Verdict, error) {
	if !r.isMember(playerID) {
		return state.Verdict{}, gameerr.ErrPlayerNotFound
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return state.Verdict{}, fmt.Errorf("empty message: %w", gameerr.ErrInvalid)
	}

	var verdict state.Verdict
	if r.game != nil {
		verdict = r.game.EvaluateGuess(r, playerID, text)
	}
	if !verdict.Suppress {
		r.postChat(playerID, text)
	}
	return verdict, nil
}

func (r *Room) handleDrawing(playerID string, data []byte) error {
	if !r.isMember(playerID) {
		return gameerr.ErrPlayerNotFound
	}
	var round *state.Round
	if r.game != nil {
		round = r.game.CurrentRound()
	}
	if round == nil {
		return gameerr.ErrNoActiveRound
	}
	if !round.IsArtist(playerID) {
		return gameerr.ErrNotArtist
	}
	if len(data) == 0 {
		return fmt.Errorf("empty drawing: %w", gameerr.ErrInvalid)
	}
	if len(data) > r.deps.MaxDrawingBytes {
		return fmt.Errorf("drawing of %d bytes exceeds %d: %w", len(data), r.deps.MaxDrawingBytes, gameerr.ErrInvalid)
	}

	r.Emit(network.EventDrawingUpdated, DrawingEvent{PlayerID: playerID, Bytes: data})
	return nil
}

func (r *Room) handleExclude(requester, target string) error {
	if requester != r.admin {
		return gameerr.ErrNotAdmin
	}
	if target == requester {
		return fmt.Errorf("admin cannot exclude itself: %w", gameerr.ErrInvalid)
	}
	if !r.isMember(target) {
		return gameerr.ErrPlayerNotFound
	}

	r.EmitTo(target, network.EventExcluded, ExcludedEvent{RoomID: r.ID})
	if err := r.remove(target, "excluded"); err != nil {
		return err
	}
	r.deps.Directory.Kick(target)
	return nil
}

// remove is the single removal path shared by leave, exclusion and grace
// period expiry.
func (r *Room) remove(playerID, reason string) error {
	if !r.isMember(playerID) {
		return gameerr.ErrPlayerNotFound
	}
	player := r.players[playerID]
	wasAdmin := r.admin == playerID
	r.detachMember(playerID)
	r.log.Infof("player %s removed (%s), %d left", playerID, reason, len(r.members))

	if len(r.members) == 0 {
		r.shutdown()
		return nil
	}

	r.Emit(network.EventPlayerLeftRoom, PlayerEvent{Player: player, Reason: reason})
	if wasAdmin {
		r.admin = r.members[0]
		r.log.Infof("admin handed over to %s", r.admin)
		r.Emit(network.EventAdminChanged, PlayerEvent{Player: r.players[r.admin]})
	}
	if r.game != nil {
		r.game.HandleDeparture(r, playerID)
	}
	if r.game != nil {
		r.EmitPlayerList()
	}
	return nil
}

func (r *Room) detachMember(playerID string) {
	r.Cancel(removalKey(playerID))
	for i, id := range r.members {
		if id == playerID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	delete(r.players, playerID)
	if r.admin == playerID {
		r.admin = ""
	}
	r.deps.Directory.SetRoom(playerID, "")
	r.deps.Broadcaster.Untrack(r.ID, playerID)
}

func (r *Room) shutdown() {
	if r.game != nil {
		r.game.Abort(r)
		r.game = nil
	}
	for key := range r.timers {
		r.deps.Scheduler.Cancel(key)
	}
	r.timers = make(map[string]int64)
	r.closed = true
	r.log.Info("room closed")
}

func (r *Room) postChat(playerID, text string) {
	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		RoomID:    r.ID,
		PlayerID:  playerID,
		Name:      r.players[playerID].Name,
		Text:      text,
		CreatedAt: r.Now(),
	}
	r.messages = append(r.messages, msg)
	if len(r.messages) > chatHistory {
		r.messages = r.messages[len(r.messages)-chatHistory:]
	}
	r.Emit(network.EventChatMessage, ChatEvent{PlayerID: playerID, Name: msg.Name, Text: text, At: msg.CreatedAt})
	r.deps.Recorder.ChatPosted(msg)
}

func (r *Room) isMember(playerID string) bool {
	_, ok := r.players[playerID]
	return ok
}

func (r *Room) status() RoomStatus {
	switch {
	case r.closed:
		return StatusClosed
	case r.game != nil && r.game.Running:
		return StatusGaming
	default:
		return StatusWaiting
	}
}

func (r *Room) playerViews() []PlayerView {
	var round *state.Round
	if r.game != nil {
		round = r.game.CurrentRound()
	}
	views := make([]PlayerView, 0, len(r.members))
	for _, id := range r.members {
		v := PlayerView{
			Player:    r.players[id],
			Score:     r.ledger.Get(id),
			Connected: r.deps.Directory.IsConnected(id),
			Admin:     id == r.admin,
		}
		if round != nil {
			v.Artist = round.IsArtist(id)
			v.Guessed = round.HasGuessed(id)
		}
		views = append(views, v)
	}
	return views
}

func (r *Room) snapshot() Snapshot {
	snap := Snapshot{
		ID:         r.ID,
		Status:     r.status().String(),
		MaxPlayers: r.MaxPlayers,
		Admin:      r.admin,
		Players:    r.playerViews(),
		Messages:   append([]models.ChatMessage(nil), r.messages...),
		CreatedAt:  r.CreatedAt,
	}
	if r.game != nil {
		view := r.game.View()
		snap.Game = &view
	}
	return snap
}

func removalKey(playerID string) string {
	return playerID + ":remove"
}

// --- state.RoomContext ---

func (r *Room) GetID() string {
	return r.ID
}

func (r *Room) Members() []string {
	return append([]string(nil), r.members...)
}

func (r *Room) Now() time.Time {
	return r.deps.Clock()
}

func (r *Room) Emit(event string, payload interface{}) {
	r.deps.Metrics.ObserveEvent(event)
	if scored, ok := payload.(state.PlayerScored); ok {
		r.deps.Recorder.ScoreChanged(r.ID, scored.PlayerID, scored.Total)
	}
	if err := r.deps.Broadcaster.SendToRoom(r.ID, event, payload); err != nil {
		r.log.Warnf("broadcast %s: %v", event, err)
	}
}

func (r *Room) EmitTo(playerID, event string, payload interface{}) {
	r.deps.Metrics.ObserveEvent(event)
	if err := r.deps.Broadcaster.SendToPlayer(playerID, event, payload); err != nil {
		r.log.Warnf("send %s to %s: %v", event, playerID, err)
	}
}

func (r *Room) EmitPlayerList() {
	r.Emit(network.EventPlayerList, struct {
		Players []PlayerView `json:"players"`
	}{r.playerViews()})
}

// Schedule arms a scheduler task whose callback re-enters the actor queue.
// A callback whose task was cancelled or replaced meanwhile is dropped.
func (r *Room) Schedule(key string, delay time.Duration, fire func()) {
	r.timerSeq++
	token := r.timerSeq
	r.timers[key] = token
	r.deps.Scheduler.Schedule(key, delay, func() {
		r.post("timer "+key, func(r *Room) error {
			if r.timers[key] != token {
				return nil
			}
			delete(r.timers, key)
			fire()
			return nil
		})
	})
}

func (r *Room) Cancel(key string) {
	if _, ok := r.timers[key]; !ok {
		return
	}
	delete(r.timers, key)
	r.deps.Scheduler.Cancel(key)
}

func (r *Room) NextWord() (string, error) {
	recent := make(map[string]struct{}, len(r.recentWords))
	for _, w := range r.recentWords {
		recent[w] = struct{}{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), wordLookupBudget)
	defer cancel()
	word, err := r.deps.Words.Next(ctx, recent)
	if err != nil {
		return "", err
	}

	r.recentWords = append(r.recentWords, word)
	if len(r.recentWords) > r.deps.RecentWords {
		r.recentWords = r.recentWords[len(r.recentWords)-r.deps.RecentWords:]
	}
	return word, nil
}

func (r *Room) GameFinished(g *state.Game) {
	if r.game == g {
		r.game = nil
	}

	record := models.GameRecord{
		RoomID:    r.ID,
		GameID:    g.ID,
		Template:  g.Template.Name,
		Rounds:    len(g.Rounds),
		StartedAt: g.StartedAt,
		EndedAt:   r.Now(),
	}
	points := g.SessionScores()
	for _, id := range r.members {
		record.Players = append(record.Players, models.PlayerResult{
			PlayerID: id,
			Name:     r.players[id].Name,
			Points:   points[id],
			Total:    r.ledger.Get(id),
		})
	}
	r.deps.Recorder.GameFinished(record)
}
