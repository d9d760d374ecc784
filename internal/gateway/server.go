// Package gateway is the local WebSocket control plane. Clients
// authenticate with a shared token, issue ask/status requests as JSON
// frames, and can subscribe to agent lifecycle events.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/idlehands/idlehands/pkg/channels"
)

// ChannelName is how gateway-originated sessions are keyed.
const ChannelName = "gateway"

// Frame is the wire unit in both directions.
type Frame struct {
	Type         string                 `json:"type"`
	ID           string                 `json:"id,omitempty"`
	Token        string                 `json:"token,omitempty"`
	Instruction  string                 `json:"instruction,omitempty"`
	Conversation string                 `json:"conversation,omitempty"`
	Reply        string                 `json:"reply,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Event        string                 `json:"event,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// StatusFunc reports daemon state for the status method.
type StatusFunc func() map[string]interface{}

// Config holds gateway settings.
type Config struct {
	Host     string
	Port     int
	Token    string
	Dispatch channels.DispatchFunc
	Status   StatusFunc
	Logger   zerolog.Logger
}

// Server accepts WebSocket clients on a single /ws endpoint.
type Server struct {
	host     string
	port     int
	token    string
	dispatch channels.DispatchFunc
	status   StatusFunc
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	server  *http.Server
}

type client struct {
	id         string
	conn       *websocket.Conn
	writeMu    sync.Mutex
	authed     bool
	subscribed bool
}

// NewServer validates the config. A blank token is refused unless the
// server binds to loopback.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("gateway: invalid port %d", cfg.Port)
	}
	if cfg.Dispatch == nil {
		return nil, fmt.Errorf("gateway: dispatch function is required")
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	if strings.TrimSpace(cfg.Token) == "" && !isLoopback(host) {
		return nil, fmt.Errorf("gateway: token is required when binding to non-loopback host %q", host)
	}
	return &Server{
		host:     host,
		port:     cfg.Port,
		token:    strings.TrimSpace(cfg.Token),
		dispatch: cfg.Dispatch,
		status:   cfg.Status,
		logger:   cfg.Logger,
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Handler exposes the HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start begins serving; it does not block.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	server := s.server
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Msg("gateway listening")
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("gateway server stopped")
		}
	}()
	return nil
}

// Stop shuts the server down and drops all clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id, err := gonanoid.New()
	if err != nil {
		_ = conn.Close()
		return
	}
	c := &client{id: id, conn: conn, authed: s.token == ""}

	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()
	s.logger.Debug().Str("client", id).Msg("gateway client connected")

	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if closed := s.handleFrame(r.Context(), c, frame); closed {
			return
		}
	}
}

// handleFrame processes one request; it reports whether the connection
// should close.
func (s *Server) handleFrame(ctx context.Context, c *client, frame Frame) bool {
	if !c.authed {
		if frame.Type != "auth" {
			c.send(Frame{Type: "error", ID: frame.ID, Error: "authentication required"})
			return true
		}
		if subtle.ConstantTimeCompare([]byte(frame.Token), []byte(s.token)) != 1 {
			c.send(Frame{Type: "error", ID: frame.ID, Error: "invalid token"})
			return true
		}
		c.authed = true
		c.send(Frame{Type: "ok", ID: frame.ID})
		return false
	}

	switch frame.Type {
	case "auth":
		c.send(Frame{Type: "ok", ID: frame.ID})
	case "ask":
		s.handleAsk(ctx, c, frame)
	case "status":
		payload := map[string]interface{}{}
		if s.status != nil {
			payload = s.status()
		}
		c.send(Frame{Type: "result", ID: frame.ID, Payload: payload})
	case "subscribe":
		c.subscribed = true
		c.send(Frame{Type: "ok", ID: frame.ID})
	default:
		c.send(Frame{Type: "error", ID: frame.ID, Error: fmt.Sprintf("unknown frame type %q", frame.Type)})
	}
	return false
}

func (s *Server) handleAsk(ctx context.Context, c *client, frame Frame) {
	if strings.TrimSpace(frame.Instruction) == "" {
		c.send(Frame{Type: "error", ID: frame.ID, Error: "instruction is required"})
		return
	}
	reply, err := s.dispatch(ctx, channels.InboundMessage{
		Channel:      ChannelName,
		Conversation: frame.Conversation,
		Sender:       c.id,
		Content:      frame.Instruction,
	})
	if err != nil {
		c.send(Frame{Type: "error", ID: frame.ID, Error: err.Error()})
		return
	}
	c.send(Frame{Type: "result", ID: frame.ID, Reply: reply})
}

// Broadcast pushes an event frame to every subscribed client.
func (s *Server) Broadcast(event string, payload map[string]interface{}) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.authed && c.subscribed {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.send(Frame{Type: "event", Event: event, Payload: payload})
	}
}

func (c *client) send(frame Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}
