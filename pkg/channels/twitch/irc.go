package twitch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

const chatServerURL = "wss://irc-ws.chat.twitch.tv:443"

// ircWebSocket speaks Twitch chat's IRC dialect over WebSocket:
// PASS/NICK to authenticate, JOIN per room, PRIVMSG both ways, PONG
// on PING to stay connected.
type ircWebSocket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newIRCWebSocket() IRCClient {
	return &ircWebSocket{}
}

func (c *ircWebSocket) Connect(ctx context.Context, username, oauthToken string) (<-chan ChatMessage, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, chatServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chat server: %w", err)
	}
	if !strings.HasPrefix(oauthToken, "oauth:") {
		oauthToken = "oauth:" + oauthToken
	}
	lines := []string{
		"PASS " + oauthToken,
		"NICK " + strings.ToLower(username),
	}
	for _, line := range lines {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("handshake write failed: %w", err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	messages := make(chan ChatMessage, 16)
	go c.readLoop(conn, messages)
	return messages, nil
}

func (c *ircWebSocket) readLoop(conn *websocket.Conn, messages chan<- ChatMessage) {
	defer close(messages)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, raw := range strings.Split(string(data), "\r\n") {
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "PING") {
				_ = c.write("PONG " + strings.TrimPrefix(line, "PING "))
				continue
			}
			if msg, ok := parsePrivmsg(line); ok {
				messages <- msg
			}
		}
	}
}

// parsePrivmsg extracts sender, room, and text from a line shaped like
// ":nick!nick@nick.tmi.twitch.tv PRIVMSG #room :text".
func parsePrivmsg(line string) (ChatMessage, bool) {
	if !strings.HasPrefix(line, ":") {
		return ChatMessage{}, false
	}
	rest := line[1:]
	bangIdx := strings.Index(rest, "!")
	privIdx := strings.Index(rest, " PRIVMSG #")
	if bangIdx < 0 || privIdx < 0 || bangIdx > privIdx {
		return ChatMessage{}, false
	}
	sender := rest[:bangIdx]
	rest = rest[privIdx+len(" PRIVMSG #"):]
	colonIdx := strings.Index(rest, " :")
	if colonIdx < 0 {
		return ChatMessage{}, false
	}
	return ChatMessage{
		Room:   rest[:colonIdx],
		Sender: sender,
		Text:   rest[colonIdx+2:],
	}, true
}

func (c *ircWebSocket) Join(room string) error {
	return c.write("JOIN #" + strings.ToLower(strings.TrimPrefix(room, "#")))
}

func (c *ircWebSocket) Say(room, text string) error {
	return c.write(fmt.Sprintf("PRIVMSG #%s :%s", strings.ToLower(strings.TrimPrefix(room, "#")), text))
}

func (c *ircWebSocket) write(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("chat connection is not open")
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *ircWebSocket) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
