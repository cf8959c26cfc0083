// network/connection.go
package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrMalformedPacket marks a frame that could not be decoded; the
	// connection itself is still usable.
	ErrMalformedPacket = errors.New("malformed packet")
	ErrEmptyEvent      = fmt.Errorf("packet has no event name: %w", ErrMalformedPacket)
)

type Connection interface {
	Send(event string, data []byte) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	ReadPacket() (*Packet, error)
}

// writeWait 是未设置心跳时单帧的写超时
const writeWait = 10 * time.Second

type WSConnection struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
	heartbeat time.Duration
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return &WSConnection{conn: conn}
}

func (c *WSConnection) Send(event string, data []byte) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	wait := writeWait
	if c.heartbeat > 0 {
		wait = c.heartbeat
	}
	c.conn.SetWriteDeadline(time.Now().Add(wait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *WSConnection) ReadPacket() (*Packet, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var packet Packet
	if err := json.Unmarshal(data, &packet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if packet.Event == "" {
		return nil, ErrEmptyEvent
	}
	return &packet, nil
}

// SetHeartbeat 设置读超时为两个心跳周期，收到 pong 时顺延
func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	})
}

// Ping writes a control ping frame. Control frames may be written
// concurrently with Send.
func (c *WSConnection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// ExtendDeadline pushes the read deadline forward after any inbound frame.
func (c *WSConnection) ExtendDeadline() {
	if c.heartbeat > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
	}
}

// Close 不持有 sendMutex，阻塞中的 Send 会因底层连接关闭而返回
func (c *WSConnection) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
