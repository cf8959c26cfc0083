// Package gameerr holds the error taxonomy shared by the engine packages.
// Callers classify with errors.Is against the category sentinels.
package gameerr

import (
	"errors"
	"fmt"
)

// 错误分类
var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrCapacity      = errors.New("capacity exceeded")
	ErrStateConflict = errors.New("state conflict")
	ErrAuth          = errors.New("authentication failed")
	ErrInvalid       = errors.New("invalid request")
)

// 具体错误
var (
	ErrRoomNotFound     = fmt.Errorf("room %w", ErrNotFound)
	ErrPlayerNotFound   = fmt.Errorf("player %w", ErrNotFound)
	ErrTemplateNotFound = fmt.Errorf("game template %w", ErrNotFound)
	ErrRoomFull         = fmt.Errorf("room full: %w", ErrCapacity)
	ErrNotAdmin         = fmt.Errorf("requester is not the room admin: %w", ErrUnauthorized)
	ErrNotArtist        = fmt.Errorf("requester is not the current artist: %w", ErrUnauthorized)
	ErrGameRunning      = fmt.Errorf("game already running: %w", ErrStateConflict)
	ErrNoActiveRound    = fmt.Errorf("no active round: %w", ErrStateConflict)
	ErrInvalidToken     = fmt.Errorf("invalid or expired token: %w", ErrAuth)
)

// Reason maps err to the short reason string carried by Fail* events.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrTemplateNotFound):
		return "template_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	default:
		return "internal"
	}
}
