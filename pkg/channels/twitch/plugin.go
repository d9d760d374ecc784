// Package twitch connects the agent to Twitch chat over IRC. Each
// joined chat room becomes its own conversation.
package twitch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/idlehands/idlehands/pkg/channels"
)

const configSchema = `{
  "type": "object",
  "properties": {
    "username": {"type": "string"},
    "oauthToken": {"type": "string"},
    "channels": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["username", "oauthToken"]
}`

// ChatMessage is one inbound chat line.
type ChatMessage struct {
	Room   string
	Sender string
	Text   string
}

// IRCClient is the narrow wire contract the adapter needs from Twitch
// chat.
type IRCClient interface {
	Connect(ctx context.Context, username, oauthToken string) (<-chan ChatMessage, error)
	Join(room string) error
	Say(room, text string) error
	Close() error
}

// IRCFactory builds a chat client.
type IRCFactory func() IRCClient

// Plugin registers the Twitch channel adapter.
type Plugin struct {
	config map[string]interface{}
	dial   IRCFactory
}

// Option customizes the plugin.
type Option func(*Plugin)

// WithIRCFactory overrides how the chat client is built.
func WithIRCFactory(dial IRCFactory) Option {
	return func(p *Plugin) { p.dial = dial }
}

// New creates the Twitch plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{dial: newIRCWebSocket}
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
		ID:           "twitch",
		Name:         "Twitch",
		Description:  "Twitch chat over IRC",
		ConfigSchema: configSchema,
	}
}

func (p *Plugin) Register(api channels.RegisterAPI) error {
	username, _ := p.config["username"].(string)
	oauthToken, _ := p.config["oauthToken"].(string)
	var rooms []string
	if raw, ok := p.config["channels"].([]interface{}); ok {
		for _, item := range raw {
			if room, ok := item.(string); ok && strings.TrimSpace(room) != "" {
				rooms = append(rooms, strings.TrimSpace(strings.TrimPrefix(room, "#")))
			}
		}
	}
	return api.RegisterChannel(&twitchChannel{
		username:   username,
		oauthToken: oauthToken,
		rooms:      rooms,
		dial:       p.dial,
		logger:     api.Logger(),
	})
}

type twitchChannel struct {
	username   string
	oauthToken string
	rooms      []string
	dial       IRCFactory
	logger     zerolog.Logger

	mu     sync.Mutex
	client IRCClient
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *twitchChannel) Name() string { return "twitch" }

func (c *twitchChannel) Start(ctx context.Context, dispatch channels.DispatchFunc) error {
	if strings.TrimSpace(c.username) == "" {
		return fmt.Errorf("twitch: username is required")
	}
	if strings.TrimSpace(c.oauthToken) == "" {
		return fmt.Errorf("twitch: oauthToken is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	client := c.dial()
	messages, err := client.Connect(runCtx, c.username, c.oauthToken)
	if err != nil {
		cancel()
		return fmt.Errorf("twitch: connect failed: %w", err)
	}
	for _, room := range c.rooms {
		if err := client.Join(room); err != nil {
			cancel()
			_ = client.Close()
			return fmt.Errorf("twitch: failed to join %q: %w", room, err)
		}
	}

	c.mu.Lock()
	c.client = client
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pump(runCtx, client, messages, dispatch)
	return nil
}

func (c *twitchChannel) pump(ctx context.Context, client IRCClient, messages <-chan ChatMessage, dispatch channels.DispatchFunc) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			// Skip our own echoed lines.
			if strings.EqualFold(msg.Sender, c.username) || strings.TrimSpace(msg.Text) == "" {
				continue
			}
			reply, err := dispatch(ctx, channels.InboundMessage{
				Channel:      "twitch",
				Conversation: msg.Room,
				Sender:       msg.Sender,
				Content:      msg.Text,
			})
			if err != nil {
				c.logger.Error().Err(err).Str("room", msg.Room).Msg("twitch dispatch failed")
				continue
			}
			if reply == "" {
				continue
			}
			if err := client.Say(msg.Room, reply); err != nil {
				c.logger.Error().Err(err).Str("room", msg.Room).Msg("twitch reply failed")
			}
		}
	}
}

func (c *twitchChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	c.wg.Wait()
	return nil
}
