// Command client is a line-oriented dev client for the game server.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/griffonary/auth"
	"github.com/wfunc/griffonary/config"
	"github.com/wfunc/griffonary/logger"
	"github.com/wfunc/griffonary/network"
	"github.com/wfunc/griffonary/session"
)

const usage = `commands:
  create [maxPlayers]        create a room
  join <roomId>              join or rejoin a room
  leave                      leave the current room
  start [template] [secs]    start a game (admin only)
  kick <playerId>            exclude a player (admin only)
  draw <text>                upload a fake drawing
  <anything else>            chat / guess`

// send 把事件编码为 JSON 文本帧
func send(c *websocket.Conn, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := network.Encode(event, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, frame)
}

// command maps one input line to an event.
func command(line string) (string, interface{}) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	switch fields[0] {
	case "create":
		limit, _ := strconv.Atoi(arg(1))
		return network.EventAskCreateRoom, map[string]int{"maxPlayers": limit}
	case "join":
		return network.EventAskJoinRoom, map[string]string{"roomId": arg(1)}
	case "leave":
		return network.EventAskLeaveRoom, map[string]string{}
	case "start":
		template := arg(1)
		if template == "" {
			template = "Griffonary"
		}
		secs, _ := strconv.Atoi(arg(2))
		return network.EventAskStartGame, map[string]interface{}{
			"templateName":    template,
			"roundDurationMs": secs * 1000,
		}
	case "kick":
		return network.EventAskExcludePlayer, map[string]string{"playerId": arg(1)}
	case "draw":
		return network.EventUploadDrawing, map[string][]byte{"bytes": []byte(strings.TrimPrefix(line, "draw "))}
	default:
		return network.EventNewChatMessage, map[string]string{"text": line}
	}
}

func main() {
	// 与服务端共用 config.yaml / 环境变量中的密钥和有效期
	ttl := time.Hour
	defaultSecret := ""
	if cfg, err := config.LoadConfig("."); err == nil {
		defaultSecret = cfg.Auth.JWTSecret
		if cfg.Auth.TokenTTL > 0 {
			ttl = cfg.Auth.TokenTTL
		}
	}

	addr := flag.String("addr", "localhost:8080", "server address")
	token := flag.String("token", "", "auth token")
	secret := flag.String("secret", defaultSecret, "mint a token locally with this secret when -token is empty")
	id := flag.String("id", "", "player id for a minted token")
	name := flag.String("name", "", "display name for a minted token")
	flag.Parse()

	logger.Init("info")
	defer logger.Sync()
	log := logger.Log

	if *token == "" {
		resolver, err := auth.NewJWTResolver(*secret)
		if err != nil {
			log.Fatalf("need -token or -secret: %v", err)
		}
		if *id == "" {
			*id = uuid.New().String()
		}
		if *name == "" {
			*name = *id
		}
		*token, err = resolver.Issue(session.Player{ID: *id, Name: *name, Role: session.RoleGuest}, ttl)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: "token=" + url.QueryEscape(*token)}
	log.Infof("Connecting to %s", u.Host)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Infof("Read error: %v", err)
				return
			}
			var p network.Packet
			if err := json.Unmarshal(message, &p); err != nil {
				log.Warnf("bad frame: %s", message)
				continue
			}
			fmt.Printf("<- %s %s\n", p.Event, p.Data)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println(usage)
	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Info("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Infof("Write close error: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case <-heartbeat.C:
			if err := send(c, network.EventHeartbeat, nil); err != nil {
				log.Infof("Write error: %v", err)
				return
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			event, payload := command(strings.TrimSpace(line))
			if event == "" {
				continue
			}
			if err := send(c, event, payload); err != nil {
				log.Infof("Write error: %v", err)
				return
			}
			fmt.Printf("-> %s\n", event)
		}
	}
}
