package state

import (
	"fmt"
	"sync"

	"github.com/wfunc/griffonary/gameerr"
)

// 阶段接口
type State interface {
	OnEnter()
	OnExit()
	GetID() string
}

// ErrTransitionNotAllowed is returned for an edge the machine does not know
// or whose guard refuses it.
var ErrTransitionNotAllowed = fmt.Errorf("phase transition not allowed: %w", gameerr.ErrStateConflict)

// BaseStateMachine 是带白名单的阶段机：某阶段一旦注册了出边，
// 只能走向注册过的目标，且 guard 为真
type BaseStateMachine struct {
	current State
	edges   map[string]map[string]func() bool // from -> to -> guard
	mutex   sync.RWMutex
}

func NewBaseStateMachine(initial State) *BaseStateMachine {
	initial.OnEnter()
	return &BaseStateMachine{
		current: initial,
		edges:   make(map[string]map[string]func() bool),
	}
}

// allowed must be called with the mutex held.
func (sm *BaseStateMachine) allowed(to State) bool {
	out, restricted := sm.edges[sm.current.GetID()]
	if !restricted {
		return true
	}
	guard, ok := out[to.GetID()]
	return ok && (guard == nil || guard())
}

// Can reports whether ChangeState(to) would succeed right now.
func (sm *BaseStateMachine) Can(to State) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.allowed(to)
}

func (sm *BaseStateMachine) ChangeState(to State) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if !sm.allowed(to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, sm.current.GetID(), to.GetID())
	}
	sm.current.OnExit()
	sm.current = to
	to.OnEnter()
	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.current
}

// AddTransition registers from -> to. A nil guard always passes.
func (sm *BaseStateMachine) AddTransition(from, to State, guard func() bool) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	out, ok := sm.edges[from.GetID()]
	if !ok {
		out = make(map[string]func() bool)
		sm.edges[from.GetID()] = out
	}
	out[to.GetID()] = guard
}

// PhaseState 对局阶段，只携带 ID
type PhaseState struct {
	ID string
}

func (s *PhaseState) GetID() string { return s.ID }
func (s *PhaseState) OnEnter()      {}
func (s *PhaseState) OnExit()       {}

// 对局阶段: Idle → (Assigning → Active → Ended)* → Idle
var (
	PhaseIdle      = &PhaseState{ID: "idle"}
	PhaseAssigning = &PhaseState{ID: "assigning"}
	PhaseActive    = &PhaseState{ID: "active"}
	PhaseEnded     = &PhaseState{ID: "ended"}
)

var phaseEdges = [][2]State{
	{PhaseIdle, PhaseAssigning},
	{PhaseAssigning, PhaseActive},
	{PhaseAssigning, PhaseIdle},
	{PhaseActive, PhaseEnded},
	{PhaseEnded, PhaseAssigning},
	{PhaseEnded, PhaseIdle},
}

// NewPhaseMachine returns a machine in PhaseIdle with the round cycle
// registered.
func NewPhaseMachine() *BaseStateMachine {
	sm := NewBaseStateMachine(PhaseIdle)
	for _, e := range phaseEdges {
		sm.AddTransition(e[0], e[1], nil)
	}
	return sm
}
