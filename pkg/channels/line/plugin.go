// Package line connects the agent to LINE through the Messaging API
// webhook. Every inbound request is HMAC-verified against the channel
// secret before any parsing of the payload.
package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/idlehands/idlehands/pkg/channels"
	"github.com/idlehands/idlehands/pkg/webhook"
)

const configSchema = `{
  "type": "object",
  "properties": {
    "channelSecret": {"type": "string"},
    "channelAccessToken": {"type": "string"},
    "listenAddr": {"type": "string"},
    "webhookPath": {"type": "string"}
  },
  "required": ["channelSecret", "channelAccessToken"]
}`

const (
	defaultListenAddr  = "127.0.0.1:8787"
	defaultWebhookPath = "/webhook/line"
	signatureHeader    = "x-line-signature"
)

// Replier delivers outbound messages through the Messaging API.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// ReplierFactory builds a Replier for an access token.
type ReplierFactory func(channelAccessToken string) Replier

// Plugin registers the LINE channel adapter.
type Plugin struct {
	config map[string]interface{}
	build  ReplierFactory
}

// Option customizes the plugin.
type Option func(*Plugin)

// WithReplierFactory overrides how replies are delivered.
func WithReplierFactory(build ReplierFactory) Option {
	return func(p *Plugin) { p.build = build }
}

// New creates the LINE plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{build: newAPIReplier}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewWithConfig creates the plugin bound to a raw config section.
func NewWithConfig(cfg map[string]interface{}, opts ...Option) *Plugin {
	p := New(opts...)
	p.config = cfg
	return p
}

func (p *Plugin) Descriptor() channels.Descriptor {
	return channels.Descriptor{
		ID:           "line",
		Name:         "LINE",
		Description:  "LINE Messaging API webhook",
		ConfigSchema: configSchema,
	}
}

func (p *Plugin) Register(api channels.RegisterAPI) error {
	secret, _ := p.config["channelSecret"].(string)
	token, _ := p.config["channelAccessToken"].(string)
	addr, _ := p.config["listenAddr"].(string)
	path, _ := p.config["webhookPath"].(string)
	if strings.TrimSpace(addr) == "" {
		addr = defaultListenAddr
	}
	if strings.TrimSpace(path) == "" {
		path = defaultWebhookPath
	}
	return api.RegisterChannel(&lineChannel{
		secret: secret,
		token:  token,
		addr:   addr,
		path:   path,
		build:  p.build,
		logger: api.Logger(),
	})
}

type lineChannel struct {
	secret string
	token  string
	addr   string
	path   string
	build  ReplierFactory
	logger zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	replier  Replier
	dispatch channels.DispatchFunc
}

func (c *lineChannel) Name() string { return "line" }

func (c *lineChannel) Start(ctx context.Context, dispatch channels.DispatchFunc) error {
	if strings.TrimSpace(c.secret) == "" {
		return fmt.Errorf("line: channelSecret is required")
	}
	if strings.TrimSpace(c.token) == "" {
		return fmt.Errorf("line: channelAccessToken is required")
	}

	listener, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("line: failed to listen on %s: %w", c.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(c.path, c.handleWebhook)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	c.mu.Lock()
	c.server = server
	c.replier = c.build(c.token)
	c.dispatch = dispatch
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Msg("line webhook server stopped")
		}
	}()
	c.logger.Info().Str("addr", listener.Addr().String()).Str("path", c.path).Msg("line webhook listening")
	return nil
}

type webhookBody struct {
	Events []struct {
		Type       string `json:"type"`
		ReplyToken string `json:"replyToken"`
		Source     struct {
			Type    string `json:"type"`
			UserID  string `json:"userId"`
			GroupID string `json:"groupId"`
			RoomID  string `json:"roomId"`
		} `json:"source"`
		Message struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"events"`
}

// handleWebhook verifies the signature against the raw body before
// anything else touches the payload.
func (c *lineChannel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sig := r.Header.Get(signatureHeader)
	if !webhook.VerifySignature(sig, body, c.secret, webhook.Options{Encoding: webhook.Base64}) {
		c.logger.Warn().Msg("line webhook signature rejected")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	c.mu.Lock()
	dispatch := c.dispatch
	replier := c.replier
	c.mu.Unlock()

	for _, ev := range payload.Events {
		if ev.Type != "message" || ev.Message.Type != "text" || strings.TrimSpace(ev.Message.Text) == "" {
			continue
		}
		conversation := ev.Source.GroupID
		if conversation == "" {
			conversation = ev.Source.RoomID
		}
		go c.handleEvent(r.Context(), dispatch, replier, ev.ReplyToken, channels.InboundMessage{
			Channel:      "line",
			Conversation: conversation,
			Sender:       ev.Source.UserID,
			Content:      ev.Message.Text,
		})
	}
}

func (c *lineChannel) handleEvent(ctx context.Context, dispatch channels.DispatchFunc, replier Replier, replyToken string, msg channels.InboundMessage) {
	// The request context dies with the webhook response; replies need
	// their own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()

	reply, err := dispatch(ctx, msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("line dispatch failed")
		return
	}
	if reply == "" {
		return
	}
	if err := replier.Reply(ctx, replyToken, reply); err != nil {
		c.logger.Error().Err(err).Msg("line reply failed")
	}
}

func (c *lineChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// apiReplier posts to the Messaging API reply endpoint.
type apiReplier struct {
	token string
	http  *http.Client
}

const replyURL = "https://api.line.me/v2/bot/message/reply"

func newAPIReplier(channelAccessToken string) Replier {
	return &apiReplier{token: channelAccessToken, http: &http.Client{Timeout: 30 * time.Second}}
}

func (r *apiReplier) Reply(ctx context.Context, replyToken, text string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"replyToken": replyToken,
		"messages":   []map[string]string{{"type": "text", "text": text}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, replyURL, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("reply request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("reply returned status %d", resp.StatusCode)
	}
	return nil
}
