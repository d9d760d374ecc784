// Package imessage connects the agent to iMessage through a local
// bridge binary. Unknown senders are gated behind pairing: they get a
// code and an approval hint instead of an agent reply until an
// operator approves them.
package imessage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/idlehands/idlehands/pkg/channels"
	"github.com/idlehands/idlehands/pkg/pairing"
)

const configSchema = `{
  "type": "object",
  "properties": {
    "cliPath": {"type": "string"},
    "dataDir": {"type": "string"},
    "allowlist": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["cliPath"]
}`

// Message is one inbound iMessage.
type Message struct {
	Sender string
	Text   string
}

// Bridge is the narrow contract against the local bridge binary.
type Bridge interface {
	Listen(ctx context.Context) (<-chan Message, error)
	Send(ctx context.Context, recipient, text string) error
	Close() error
}

// BridgeFactory builds a Bridge for the configured binary path.
type BridgeFactory func(cliPath string) Bridge

// Plugin registers the iMessage channel adapter.
type Plugin struct {
	config map[string]interface{}
	dial   BridgeFactory
	pairs  *pairing.Manager
}

// Option customizes the plugin.
type Option func(*Plugin)

// WithBridgeFactory overrides how the bridge process is started.
func WithBridgeFactory(dial BridgeFactory) Option {
	return func(p *Plugin) { p.dial = dial }
}

// WithPairingManager injects a pre-built pairing manager.
func WithPairingManager(m *pairing.Manager) Option {
	return func(p *Plugin) { p.pairs = m }
}

// New creates the iMessage plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{dial: newCLIBridge}
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
		ID:           "imessage",
		Name:         "iMessage",
		Description:  "iMessage via a local bridge binary, pairing-gated",
		ConfigSchema: configSchema,
	}
}

func (p *Plugin) Register(api channels.RegisterAPI) error {
	cliPath, _ := p.config["cliPath"].(string)

	pairs := p.pairs
	if pairs == nil {
		dataDir, _ := p.config["dataDir"].(string)
		var seed []string
		if raw, ok := p.config["allowlist"].([]interface{}); ok {
			for _, item := range raw {
				if sender, ok := item.(string); ok {
					seed = append(seed, sender)
				}
			}
		}
		pendingPath, allowlistPath := pairing.DefaultPaths(dataDir, "imessage")
		var err error
		pairs, err = pairing.NewManager(pairing.Options{
			Channel:       "imessage",
			PendingPath:   pendingPath,
			AllowlistPath: allowlistPath,
			Allowlist:     seed,
		})
		if err != nil {
			return fmt.Errorf("imessage: pairing setup failed: %w", err)
		}
	}

	return api.RegisterChannel(&imessageChannel{
		cliPath: cliPath,
		pairs:   pairs,
		dial:    p.dial,
		logger:  api.Logger(),
	})
}

type imessageChannel struct {
	cliPath string
	pairs   *pairing.Manager
	dial    BridgeFactory
	logger  zerolog.Logger

	mu     sync.Mutex
	bridge Bridge
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *imessageChannel) Name() string { return "imessage" }

func (c *imessageChannel) Start(ctx context.Context, dispatch channels.DispatchFunc) error {
	if strings.TrimSpace(c.cliPath) == "" {
		return fmt.Errorf("imessage: cliPath is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	bridge := c.dial(c.cliPath)
	messages, err := bridge.Listen(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("imessage: bridge start failed: %w", err)
	}

	c.mu.Lock()
	c.bridge = bridge
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pump(runCtx, bridge, messages, dispatch)
	return nil
}

func (c *imessageChannel) pump(ctx context.Context, bridge Bridge, messages <-chan Message, dispatch channels.DispatchFunc) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			reply := c.handle(ctx, msg, dispatch)
			if reply == "" {
				continue
			}
			if err := bridge.Send(ctx, msg.Sender, reply); err != nil {
				c.logger.Error().Err(err).Str("sender", msg.Sender).Msg("imessage reply failed")
			}
		}
	}
}

// handle applies the pairing gate before any dispatch: unknown
// senders get a code and the approval hint, never an agent turn.
func (c *imessageChannel) handle(ctx context.Context, msg Message, dispatch channels.DispatchFunc) string {
	if !c.pairs.IsAllowed(msg.Sender) {
		req, created, err := c.pairs.RequestCode(msg.Sender)
		if err != nil {
			if errors.Is(err, pairing.ErrAlreadyAllowlisted) {
				// Raced with an approval; fall through to dispatch.
			} else {
				c.logger.Error().Err(err).Str("sender", msg.Sender).Msg("pairing request failed")
				return ""
			}
		} else {
			if created {
				c.logger.Info().Str("sender", msg.Sender).Str("code", req.Code).Msg("pairing code issued")
			}
			return pairing.ApprovalHint("imessage", req.Code)
		}
	}

	reply, err := dispatch(ctx, channels.InboundMessage{
		Channel: "imessage",
		Sender:  msg.Sender,
		Content: msg.Text,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("sender", msg.Sender).Msg("imessage dispatch failed")
		return ""
	}
	return reply
}

func (c *imessageChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	bridge := c.bridge
	c.bridge = nil
	c.mu.Unlock()
	if bridge != nil {
		_ = bridge.Close()
	}
	c.wg.Wait()
	return nil
}
