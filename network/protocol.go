package network

import "encoding/json"

// 客户端 -> 服务器
const (
	EventHeartbeat        = "Heartbeat"
	EventAskCreateRoom    = "AskCreateRoom"
	EventAskJoinRoom      = "AskJoinRoom"
	EventAskLeaveRoom     = "AskLeaveRoom"
	EventAskExcludePlayer = "AskExcludePlayer"
	EventAskStartGame     = "AskStartGame"
	EventUploadDrawing    = "UploadDrawing"
	EventNewChatMessage   = "NewChatMessage"
)

// 服务器 -> 客户端
const (
	EventRoomCreated       = "RoomCreated"
	EventPlayerJoinedRoom  = "PlayerJoinedRoom"
	EventPlayerLeftRoom    = "PlayerLeftRoom"
	EventPlayerReconnected = "PlayerReconnected"
	EventAdminChanged      = "AdminChanged"
	EventRoomSnapshot      = "RoomSnapshot"
	EventGameStarted       = "GameStarted"
	EventGameEnded         = "GameEnded"
	EventWordToDraw        = "WordToDraw"
	EventPlayerList        = "PlayerList"
	EventTimeLimit         = "TimeLimit"
	EventPlayerScored      = "PlayerScored"
	EventScoreList         = "ScoreList"
	EventStopDraw          = "StopDraw"
	EventChatMessage       = "ChatMessage"
	EventDrawingUpdated    = "DrawingUpdated"
	EventExcluded          = "Excluded"

	EventFailCreateRoom    = "FailCreateRoom"
	EventFailJoinRoom      = "FailJoinRoom"
	EventFailLeaveRoom     = "FailLeaveRoom"
	EventFailExcludePlayer = "FailExcludePlayer"
	EventFailStartGame     = "FailStartGame"
	EventFailUploadDrawing = "FailUploadDrawing"
	EventFailChatMessage   = "FailChatMessage"
)

// Packet is the JSON envelope carried by every text frame.
type Packet struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode 把事件名和已序列化的 payload 封装为一帧
func Encode(event string, data []byte) ([]byte, error) {
	return json.Marshal(Packet{Event: event, Data: data})
}
