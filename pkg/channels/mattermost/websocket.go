package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsEventSource speaks the Mattermost v4 API: posts stream over
// /api/v4/websocket after a token handshake, replies go over REST.
type wsEventSource struct {
	serverURL string
	token     string
	http      *http.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

func dialWebSocket(serverURL, token string) EventSource {
	return &wsEventSource{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     token,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *wsEventSource) Listen(ctx context.Context) (<-chan Post, error) {
	wsURL, err := s.websocketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}
	auth := map[string]interface{}{
		"seq":    1,
		"action": "authentication_challenge",
		"data":   map[string]string{"token": s.token},
	}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("authentication challenge failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	posts := make(chan Post, 16)
	go s.readLoop(conn, posts)
	return posts, nil
}

func (s *wsEventSource) websocketURL() (string, error) {
	parsed, err := url.Parse(s.serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid serverUrl: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid serverUrl scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api/v4/websocket"
	return parsed.String(), nil
}

type wsEvent struct {
	Event string `json:"event"`
	Data  struct {
		Post string `json:"post"`
	} `json:"data"`
}

func (s *wsEventSource) readLoop(conn *websocket.Conn, posts chan<- Post) {
	defer close(posts)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Event != "posted" {
			continue
		}
		// The post arrives double-encoded inside the event data.
		var post struct {
			ChannelID string `json:"channel_id"`
			UserID    string `json:"user_id"`
			Message   string `json:"message"`
		}
		if err := json.Unmarshal([]byte(ev.Data.Post), &post); err != nil {
			continue
		}
		posts <- Post{ChannelID: post.ChannelID, UserID: post.UserID, Message: post.Message}
	}
}

func (s *wsEventSource) CreatePost(ctx context.Context, channelID, message string) error {
	body, err := json.Marshal(map[string]string{"channel_id": channelID, "message": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/api/v4/posts", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("create post request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("create post returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *wsEventSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
