package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wfunc/griffonary/network"
)

func TestCommand(t *testing.T) {
	tests := []struct {
		line    string
		event   string
		payload interface{}
	}{
		{"", "", nil},
		{"create 5", network.EventAskCreateRoom, map[string]int{"maxPlayers": 5}},
		{"join r1", network.EventAskJoinRoom, map[string]string{"roomId": "r1"}},
		{"leave", network.EventAskLeaveRoom, map[string]string{}},
		{"start", network.EventAskStartGame, map[string]interface{}{"templateName": "Griffonary", "roundDurationMs": 0}},
		{"start Quick 20", network.EventAskStartGame, map[string]interface{}{"templateName": "Quick", "roundDurationMs": 20000}},
		{"kick bob", network.EventAskExcludePlayer, map[string]string{"playerId": "bob"}},
		{"draw a cat", network.EventUploadDrawing, map[string][]byte{"bytes": []byte("a cat")}},
		{"is it a dragon", network.EventNewChatMessage, map[string]string{"text": "is it a dragon"}},
	}
	for _, tt := range tests {
		event, payload := command(tt.line)
		assert.Equal(t, tt.event, event, tt.line)
		assert.Equal(t, tt.payload, payload, tt.line)
	}
}
