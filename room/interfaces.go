package room

import (
	"github.com/wfunc/griffonary/models"
)

// Broadcaster defines the interface for broadcasting events to a room.
// This is defined here to break the import cycle between room and broadcast.
type Broadcaster interface {
	SendToRoom(roomID, event string, payload interface{}) error
	SendToPlayer(playerID, event string, payload interface{}) error
	Track(roomID, playerID string)
	Untrack(roomID, playerID string)
}

// Directory is the part of the player directory a room writes to.
type Directory interface {
	SetRoom(playerID, roomID string)
	IsConnected(playerID string) bool
	// Kick force-closes the live connection of the player.
	Kick(playerID string) bool
}

// Recorder receives durable facts. Implementations must not block.
type Recorder interface {
	GameFinished(record models.GameRecord)
	ChatPosted(msg models.ChatMessage)
	ScoreChanged(roomID, playerID string, total int)
}

// Metrics observes room activity.
type Metrics interface {
	SetActiveRooms(count int)
	ObserveEvent(event string)
}

// NopRecorder discards everything; used when persistence is disabled.
type NopRecorder struct{}

func (NopRecorder) GameFinished(models.GameRecord)   {}
func (NopRecorder) ChatPosted(models.ChatMessage)    {}
func (NopRecorder) ScoreChanged(string, string, int) {}

type nopMetrics struct{}

func (nopMetrics) SetActiveRooms(int)  {}
func (nopMetrics) ObserveEvent(string) {}
