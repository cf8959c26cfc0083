// state/interfaces.go
package state

import "time"

// RoomContext defines what a Game needs from the room that owns it.
// This breaks the import cycle between room and state. Every method is
// called on the owning room's actor goroutine.
type RoomContext interface {
	GetID() string
	// Members returns current member ids in join order.
	Members() []string
	Emit(event string, payload interface{})
	EmitTo(playerID, event string, payload interface{})
	EmitPlayerList()
	// Schedule arranges for fire to run on the room's queue after delay,
	// replacing any pending task under key.
	Schedule(key string, delay time.Duration, fire func())
	Cancel(key string)
	NextWord() (string, error)
	Now() time.Time
	// GameFinished is called once when the game leaves the running state.
	GameFinished(g *Game)
}
