// Package mattermost connects the agent to a Mattermost server over
// its WebSocket event stream.
package mattermost

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
    "serverUrl": {"type": "string"},
    "token": {"type": "string"}
  },
  "required": ["serverUrl", "token"]
}`

// Post is one normalized inbound post.
type Post struct {
	ChannelID string
	UserID    string
	Message   string
}

// EventSource is the narrow wire contract the adapter needs: a stream
// of posts in, replies out.
type EventSource interface {
	Listen(ctx context.Context) (<-chan Post, error)
	CreatePost(ctx context.Context, channelID, message string) error
	Close() error
}

// EventSourceFactory builds an EventSource for a server and token.
type EventSourceFactory func(serverURL, token string) EventSource

// Plugin registers the Mattermost channel adapter.
type Plugin struct {
	config map[string]interface{}
	dial   EventSourceFactory
}

// Option customizes the plugin.
type Option func(*Plugin)

// WithEventSourceFactory overrides how the event source is dialed.
func WithEventSourceFactory(dial EventSourceFactory) Option {
	return func(p *Plugin) { p.dial = dial }
}

// New creates the Mattermost plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{dial: dialWebSocket}
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
		ID:           "mattermost",
		Name:         "Mattermost",
		Description:  "Mattermost server over the WebSocket event stream",
		ConfigSchema: configSchema,
	}
}

func (p *Plugin) Register(api channels.RegisterAPI) error {
	serverURL, _ := p.config["serverUrl"].(string)
	token, _ := p.config["token"].(string)
	return api.RegisterChannel(&mattermostChannel{
		serverURL: serverURL,
		token:     token,
		dial:      p.dial,
		logger:    api.Logger(),
	})
}

type mattermostChannel struct {
	serverURL string
	token     string
	dial      EventSourceFactory
	logger    zerolog.Logger

	mu     sync.Mutex
	source EventSource
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *mattermostChannel) Name() string { return "mattermost" }

func (c *mattermostChannel) Start(ctx context.Context, dispatch channels.DispatchFunc) error {
	if strings.TrimSpace(c.serverURL) == "" {
		return fmt.Errorf("mattermost: serverUrl is required")
	}
	if strings.TrimSpace(c.token) == "" {
		return fmt.Errorf("mattermost: token is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	source := c.dial(c.serverURL, c.token)
	posts, err := source.Listen(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("mattermost: connect failed: %w", err)
	}

	c.mu.Lock()
	c.source = source
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pump(runCtx, source, posts, dispatch)
	return nil
}

func (c *mattermostChannel) pump(ctx context.Context, source EventSource, posts <-chan Post, dispatch channels.DispatchFunc) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case post, ok := <-posts:
			if !ok {
				return
			}
			if strings.TrimSpace(post.Message) == "" {
				continue
			}
			reply, err := dispatch(ctx, channels.InboundMessage{
				Channel:      "mattermost",
				Conversation: post.ChannelID,
				Sender:       post.UserID,
				Content:      post.Message,
			})
			if err != nil {
				c.logger.Error().Err(err).Msg("mattermost dispatch failed")
				continue
			}
			if reply == "" {
				continue
			}
			if err := source.CreatePost(ctx, post.ChannelID, reply); err != nil {
				c.logger.Error().Err(err).Msg("mattermost reply failed")
			}
		}
	}
}

func (c *mattermostChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	source := c.source
	c.source = nil
	c.mu.Unlock()
	if source != nil {
		_ = source.Close()
	}
	c.wg.Wait()
	return nil
}
