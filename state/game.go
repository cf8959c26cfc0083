package state

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/griffonary/logger"
	"github.com/wfunc/griffonary/network"
)

// Round is one artist/word/timer cycle.
type Round struct {
	Number    int
	Word      string
	Artists   []string
	Guessed   []string
	StartedAt time.Time
	Deadline  time.Time
	OnGoing   bool
}

func (r *Round) IsArtist(playerID string) bool {
	return contains(r.Artists, playerID)
}

func (r *Round) HasGuessed(playerID string) bool {
	return contains(r.Guessed, playerID)
}

// Verdict is the outcome of evaluating a chat line against the round word.
type Verdict struct {
	Scoreable bool
	Suppress  bool
	Correct   bool
}

// 事件 payload

type GameView struct {
	ID            string        `json:"id"`
	Template      Template      `json:"template"`
	RoundDuration time.Duration `json:"roundDuration"`
	Running       bool          `json:"running"`
	Round         *RoundView    `json:"round,omitempty"`
}

// RoundView never carries the word.
type RoundView struct {
	Number   int       `json:"number"`
	Artists  []string  `json:"artists"`
	Guessed  []string  `json:"guessed"`
	Deadline time.Time `json:"deadline"`
}

type WordToDraw struct {
	Word     string    `json:"word"`
	Deadline time.Time `json:"deadline"`
}

type TimeLimit struct {
	Deadline  time.Time `json:"deadline"`
	Remaining int64     `json:"remainingMs"`
}

type PlayerScored struct {
	PlayerID string `json:"player"`
	Points   int    `json:"points"`
	Total    int    `json:"total"`
}

type ScoreList struct {
	Scores []ScoreEntry `json:"scores"`
}

// Options tunes a new Game.
type Options struct {
	// RoundDuration overrides the template default when positive.
	RoundDuration time.Duration
	Rand          *rand.Rand
}

// Game 是房间内一次对局（GameSession），只由房间 actor 修改
type Game struct {
	ID            string
	Template      Template
	RoundDuration time.Duration
	Rounds        []*Round
	Running       bool
	StartedAt     time.Time

	rotation      map[string]struct{}
	ledger        *Ledger
	sessionScores map[string]int
	machine       *BaseStateMachine
	rng           *rand.Rand
}

func NewGame(template Template, ledger *Ledger, opts Options) *Game {
	duration := template.RoundDuration
	if opts.RoundDuration > 0 {
		duration = opts.RoundDuration
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Game{
		ID:            uuid.New().String(),
		Template:      template,
		RoundDuration: duration,
		rotation:      make(map[string]struct{}),
		ledger:        ledger,
		sessionScores: make(map[string]int),
		machine:       NewPhaseMachine(),
		rng:           rng,
	}
}

// EndOfRoundKey is the scheduler key of a room's round deadline.
func EndOfRoundKey(roomID string) string {
	return roomID + ":endOfRound"
}

// Phase returns the id of the current phase.
func (g *Game) Phase() string {
	return g.machine.GetCurrentState().GetID()
}

// CurrentRound returns the round with OnGoing set, or nil.
func (g *Game) CurrentRound() *Round {
	if n := len(g.Rounds); n > 0 && g.Rounds[n-1].OnGoing {
		return g.Rounds[n-1]
	}
	return nil
}

// SessionScores returns the points earned during this game only.
func (g *Game) SessionScores() map[string]int {
	out := make(map[string]int, len(g.sessionScores))
	for k, v := range g.sessionScores {
		out[k] = v
	}
	return out
}

func (g *Game) View() GameView {
	view := GameView{
		ID:            g.ID,
		Template:      g.Template,
		RoundDuration: g.RoundDuration,
		Running:       g.Running,
	}
	if r := g.CurrentRound(); r != nil {
		view.Round = &RoundView{
			Number:   r.Number,
			Artists:  append([]string(nil), r.Artists...),
			Guessed:  append([]string(nil), r.Guessed...),
			Deadline: r.Deadline,
		}
	}
	return view
}

// Start 标记对局开始，广播 GameStarted 并执行第一轮
func (g *Game) Start(ctx RoomContext) {
	g.Running = true
	g.StartedAt = ctx.Now()
	logger.Log.Infof("room %s: game %s started with template %s", ctx.GetID(), g.ID, g.Template.Name)
	ctx.Emit(network.EventGameStarted, g.View())
	g.ExecuteRound(ctx)
}

// ExecuteRound starts the next round or ends the game once every present
// member has drawn. A call while a round is on going is a no-op.
func (g *Game) ExecuteRound(ctx RoomContext) {
	if !g.Running {
		return
	}
	if g.CurrentRound() != nil {
		logger.Log.Debugf("room %s: round already on going, ignoring execute", ctx.GetID())
		return
	}
	if err := g.machine.ChangeState(PhaseAssigning); err != nil {
		logger.Log.Errorf("room %s: cannot enter assigning from %s: %v", ctx.GetID(), g.Phase(), err)
		return
	}

	eligible := g.eligible(ctx)
	if len(eligible) == 0 {
		g.rotation = make(map[string]struct{})
		g.finish(ctx)
		return
	}

	word, err := ctx.NextWord()
	if err != nil {
		logger.Log.Errorf("room %s: no word available, ending game: %v", ctx.GetID(), err)
		g.finish(ctx)
		return
	}

	artist := eligible[g.rng.Intn(len(eligible))]
	g.rotation[artist] = struct{}{}

	now := ctx.Now()
	round := &Round{
		Number:    len(g.Rounds) + 1,
		Word:      word,
		Artists:   []string{artist},
		Guessed:   []string{},
		StartedAt: now,
		Deadline:  now.Add(g.RoundDuration),
		OnGoing:   true,
	}
	g.Rounds = append(g.Rounds, round)
	g.machine.ChangeState(PhaseActive)

	ctx.Schedule(EndOfRoundKey(ctx.GetID()), g.RoundDuration, func() { g.EndRound(ctx) })

	logger.Log.Infof("room %s: round %d started, artist %s", ctx.GetID(), round.Number, artist)
	ctx.EmitTo(artist, network.EventWordToDraw, WordToDraw{Word: word, Deadline: round.Deadline})
	ctx.EmitPlayerList()
	ctx.Emit(network.EventTimeLimit, g.timeLimit(ctx, round))
}

// EndRound closes the on going round and chains into the next one. It is
// idempotent: with no round on going nothing happens.
func (g *Game) EndRound(ctx RoomContext) {
	round := g.CurrentRound()
	if round == nil {
		return
	}
	round.OnGoing = false
	g.machine.ChangeState(PhaseEnded)
	ctx.Cancel(EndOfRoundKey(ctx.GetID()))

	logger.Log.Infof("room %s: round %d ended, %d correct guesses", ctx.GetID(), round.Number, len(round.Guessed))
	ctx.Emit(network.EventStopDraw, nil)
	// 最后一轮的分数由 finish 统一发送
	if len(g.eligible(ctx)) > 0 {
		ctx.Emit(network.EventScoreList, ScoreList{Scores: g.ledger.Entries(ctx.Members())})
	}
	ctx.EmitPlayerList()

	g.ExecuteRound(ctx)
}

// EvaluateGuess checks text against the word of the on going round and
// scores a correct guess.
func (g *Game) EvaluateGuess(ctx RoomContext, playerID, text string) Verdict {
	round := g.CurrentRound()
	if round == nil || !g.Template.WithGuesses {
		return Verdict{}
	}
	if round.IsArtist(playerID) || round.HasGuessed(playerID) {
		return Verdict{}
	}
	if !strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(round.Word)) {
		return Verdict{Scoreable: true}
	}

	verdict := Verdict{Scoreable: true, Suppress: true, Correct: true}
	if len(round.Artists) == 0 {
		logger.Log.Errorf("room %s: round %d has no artist, correct guess from %s not scored",
			ctx.GetID(), round.Number, playerID)
		return verdict
	}

	reward := g.Template.Reward(len(round.Guessed))
	round.Guessed = append(round.Guessed, playerID)
	g.credit(ctx, playerID, reward)
	for _, artist := range round.Artists {
		g.credit(ctx, artist, g.Template.PointStep)
	}

	if g.everyoneGuessed(ctx, round) {
		g.EndRound(ctx)
	}
	return verdict
}

// HandleDeparture re-checks the round after playerID left the room: the
// round ends early when no artist is left or every remaining guesser has
// already found the word.
func (g *Game) HandleDeparture(ctx RoomContext, playerID string) {
	round := g.CurrentRound()
	if round == nil {
		return
	}

	members := ctx.Members()
	artistPresent := false
	for _, a := range round.Artists {
		if contains(members, a) {
			artistPresent = true
			break
		}
	}
	if !artistPresent {
		logger.Log.Infof("room %s: artist left during round %d, ending it early", ctx.GetID(), round.Number)
		g.EndRound(ctx)
		return
	}
	if g.everyoneGuessed(ctx, round) {
		g.EndRound(ctx)
	}
}

// ArtistReplay returns what a reconnecting artist needs to resume drawing.
func (g *Game) ArtistReplay(ctx RoomContext, playerID string) (WordToDraw, TimeLimit, bool) {
	round := g.CurrentRound()
	if round == nil || !round.IsArtist(playerID) {
		return WordToDraw{}, TimeLimit{}, false
	}
	return WordToDraw{Word: round.Word, Deadline: round.Deadline}, g.timeLimit(ctx, round), true
}

// TimeLimit returns the deadline payload of the on going round.
func (g *Game) TimeLimit(ctx RoomContext) (TimeLimit, bool) {
	round := g.CurrentRound()
	if round == nil {
		return TimeLimit{}, false
	}
	return g.timeLimit(ctx, round), true
}

// Abort stops the game without a final score broadcast.
func (g *Game) Abort(ctx RoomContext) {
	if !g.Running {
		return
	}
	if round := g.CurrentRound(); round != nil {
		round.OnGoing = false
	}
	ctx.Cancel(EndOfRoundKey(ctx.GetID()))
	g.Running = false
	// active 不能直接回到 idle，此时重建阶段机
	if g.machine.Can(PhaseIdle) {
		g.machine.ChangeState(PhaseIdle)
	} else {
		g.machine = NewPhaseMachine()
	}
}

// eligible returns the present members who have not drawn in this rotation.
func (g *Game) eligible(ctx RoomContext) []string {
	var ids []string
	for _, id := range ctx.Members() {
		if _, drawn := g.rotation[id]; !drawn {
			ids = append(ids, id)
		}
	}
	return ids
}

func (g *Game) finish(ctx RoomContext) {
	g.Running = false
	g.machine.ChangeState(PhaseIdle)
	ctx.Cancel(EndOfRoundKey(ctx.GetID()))

	logger.Log.Infof("room %s: game %s ended after %d rounds", ctx.GetID(), g.ID, len(g.Rounds))
	scores := ScoreList{Scores: g.ledger.Entries(ctx.Members())}
	ctx.Emit(network.EventScoreList, scores)
	ctx.Emit(network.EventGameEnded, scores)
	ctx.GameFinished(g)
}

func (g *Game) credit(ctx RoomContext, playerID string, points int) {
	total := g.ledger.Add(playerID, points)
	g.sessionScores[playerID] += points
	ctx.Emit(network.EventPlayerScored, PlayerScored{PlayerID: playerID, Points: points, Total: total})
}

func (g *Game) everyoneGuessed(ctx RoomContext, round *Round) bool {
	for _, id := range ctx.Members() {
		if round.IsArtist(id) {
			continue
		}
		if !round.HasGuessed(id) {
			return false
		}
	}
	return true
}

func (g *Game) timeLimit(ctx RoomContext, round *Round) TimeLimit {
	remaining := round.Deadline.Sub(ctx.Now())
	if remaining < 0 {
		remaining = 0
	}
	return TimeLimit{Deadline: round.Deadline, Remaining: remaining.Milliseconds()}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
