package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one normalized socket-mode event.
type Event struct {
	Type       string
	EnvelopeID string
	ChannelID  string
	UserID     string
	Text       string
}

// Socket is the narrow wire contract the adapter needs from Slack:
// receive events, acknowledge envelopes, post replies.
type Socket interface {
	Connect(ctx context.Context) (<-chan Event, error)
	Ack(envelopeID string) error
	PostMessage(ctx context.Context, channelID, text string) error
	Close() error
}

// SocketFactory builds a Socket for one workspace token pair.
type SocketFactory func(botToken, appToken string) Socket

const (
	connectionsOpenURL = "https://slack.com/api/apps.connections.open"
	postMessageURL     = "https://slack.com/api/chat.postMessage"
)

// socketModeClient speaks Slack socket mode: an app-token handshake
// yields a WebSocket URL, events arrive as envelopes that must be
// acknowledged, replies go over the Web API with the bot token.
type socketModeClient struct {
	botToken string
	appToken string
	http     *http.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

func dialSocketMode(botToken, appToken string) Socket {
	return &socketModeClient{
		botToken: botToken,
		appToken: appToken,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *socketModeClient) Connect(ctx context.Context) (<-chan Event, error) {
	wsURL, err := s.openConnection(ctx)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial socket mode url: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	events := make(chan Event, 16)
	go s.readLoop(conn, events)
	return events, nil
}

func (s *socketModeClient) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, connectionsOpenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.appToken)
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open request failed: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		OK    bool   `json:"ok"`
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode apps.connections.open response: %w", err)
	}
	if !payload.OK {
		return "", fmt.Errorf("apps.connections.open rejected: %s", payload.Error)
	}
	return payload.URL, nil
}

type envelope struct {
	EnvelopeID string `json:"envelope_id"`
	Type       string `json:"type"`
	Payload    struct {
		Event struct {
			Type    string `json:"type"`
			Channel string `json:"channel"`
			User    string `json:"user"`
			Text    string `json:"text"`
			BotID   string `json:"bot_id"`
		} `json:"event"`
	} `json:"payload"`
}

func (s *socketModeClient) readLoop(conn *websocket.Conn, events chan<- Event) {
	defer close(events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case "events_api":
			// Ignore the workspace's own bot traffic.
			if env.Payload.Event.BotID != "" {
				continue
			}
			events <- Event{
				Type:       env.Payload.Event.Type,
				EnvelopeID: env.EnvelopeID,
				ChannelID:  env.Payload.Event.Channel,
				UserID:     env.Payload.Event.User,
				Text:       env.Payload.Event.Text,
			}
		case "disconnect":
			return
		}
	}
}

func (s *socketModeClient) Ack(envelopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("socket is not connected")
	}
	return s.conn.WriteJSON(map[string]string{"envelope_id": envelopeID})
}

func (s *socketModeClient) PostMessage(ctx context.Context, channelID, text string) error {
	body, err := json.Marshal(map[string]string{"channel": channelID, "text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postMessageURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.botToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat.postMessage request failed: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode chat.postMessage response: %w", err)
	}
	if !payload.OK {
		return fmt.Errorf("chat.postMessage rejected: %s", payload.Error)
	}
	return nil
}

func (s *socketModeClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
