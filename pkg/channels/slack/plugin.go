// Package slack connects the agent to Slack workspaces over socket
// mode. Multiple workspaces can be configured as accounts; each keeps
// its own token pair and socket.
package slack

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
    "botToken": {"type": "string"},
    "appToken": {"type": "string"},
    "defaultAccount": {"type": "string"},
    "accounts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "botToken": {"type": "string"},
          "appToken": {"type": "string"}
        },
        "required": ["id", "botToken", "appToken"]
      }
    }
  }
}`

// Account is one workspace identity with its token pair.
type Account struct {
	ID       string
	BotToken string
	AppToken string
}

// Plugin registers the Slack channel adapter.
type Plugin struct {
	config  map[string]interface{}
	dial    SocketFactory
	logger  zerolog.Logger
	channel *slackChannel
}

// Option customizes the plugin.
type Option func(*Plugin)

// WithSocketFactory overrides how sockets are dialed. Used by tests and
// by hosts that terminate the wire protocol elsewhere.
func WithSocketFactory(dial SocketFactory) Option {
	return func(p *Plugin) { p.dial = dial }
}

// New creates the Slack plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{dial: dialSocketMode}
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
		ID:           "slack",
		Name:         "Slack",
		Description:  "Slack workspaces over socket mode",
		ConfigSchema: configSchema,
	}
}

// ListAccountIDs enumerates configured workspace ids.
func (p *Plugin) ListAccountIDs(cfg map[string]interface{}) []string {
	accounts := parseAccounts(cfg)
	ids := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		ids = append(ids, acct.ID)
	}
	return ids
}

// DefaultAccountID returns the configured default workspace, if any.
func (p *Plugin) DefaultAccountID(cfg map[string]interface{}) string {
	if v, ok := cfg["defaultAccount"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (p *Plugin) Register(api channels.RegisterAPI) error {
	p.logger = api.Logger()
	p.channel = &slackChannel{
		accounts: parseAccounts(p.config),
		dial:     p.dial,
		logger:   p.logger,
	}
	return api.RegisterChannel(p.channel)
}

// parseAccounts flattens the config into workspace accounts. Top-level
// tokens become the sentinel account when no accounts array is present.
func parseAccounts(cfg map[string]interface{}) []Account {
	var out []Account
	if raw, ok := cfg["accounts"].([]interface{}); ok {
		for _, item := range raw {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			out = append(out, Account{
				ID:       stringField(entry, "id"),
				BotToken: stringField(entry, "botToken"),
				AppToken: stringField(entry, "appToken"),
			})
		}
	}
	if len(out) == 0 {
		out = append(out, Account{
			ID:       channels.DefaultAccountID,
			BotToken: stringField(cfg, "botToken"),
			AppToken: stringField(cfg, "appToken"),
		})
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

type slackChannel struct {
	accounts []Account
	dial     SocketFactory
	logger   zerolog.Logger

	mu      sync.Mutex
	sockets map[string]Socket
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (c *slackChannel) Name() string { return "slack" }

// Start refuses to run without a complete token pair for every
// configured workspace.
func (c *slackChannel) Start(ctx context.Context, dispatch channels.DispatchFunc) error {
	for _, acct := range c.accounts {
		if strings.TrimSpace(acct.BotToken) == "" {
			return fmt.Errorf("slack account %q: botToken is required", acct.ID)
		}
		if strings.TrimSpace(acct.AppToken) == "" {
			return fmt.Errorf("slack account %q: appToken is required", acct.ID)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.sockets = make(map[string]Socket, len(c.accounts))
	c.mu.Unlock()

	for _, acct := range c.accounts {
		socket := c.dial(acct.BotToken, acct.AppToken)
		events, err := socket.Connect(runCtx)
		if err != nil {
			cancel()
			c.closeSockets()
			return fmt.Errorf("slack account %q: connect failed: %w", acct.ID, err)
		}
		c.mu.Lock()
		c.sockets[acct.ID] = socket
		c.mu.Unlock()

		c.wg.Add(1)
		go c.pump(runCtx, acct.ID, socket, events, dispatch)
	}
	return nil
}

func (c *slackChannel) pump(ctx context.Context, accountID string, socket Socket, events <-chan Event, dispatch channels.DispatchFunc) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.EnvelopeID != "" {
				if err := socket.Ack(ev.EnvelopeID); err != nil {
					c.logger.Warn().Err(err).Str("account", accountID).Msg("slack ack failed")
				}
			}
			if ev.Type != "message" || strings.TrimSpace(ev.Text) == "" {
				continue
			}
			reply, err := dispatch(ctx, channels.InboundMessage{
				Channel:      "slack",
				AccountID:    accountID,
				Conversation: ev.ChannelID,
				Sender:       ev.UserID,
				Content:      ev.Text,
			})
			if err != nil {
				c.logger.Error().Err(err).Str("account", accountID).Msg("slack dispatch failed")
				continue
			}
			if reply == "" {
				continue
			}
			if err := socket.PostMessage(ctx, ev.ChannelID, reply); err != nil {
				c.logger.Error().Err(err).Str("account", accountID).Msg("slack reply failed")
			}
		}
	}
}

func (c *slackChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.closeSockets()
	c.wg.Wait()
	return nil
}

func (c *slackChannel) closeSockets() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, socket := range c.sockets {
		if err := socket.Close(); err != nil {
			c.logger.Debug().Err(err).Str("account", id).Msg("slack socket close")
		}
	}
	c.sockets = nil
}
