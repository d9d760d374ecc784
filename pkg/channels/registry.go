package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/idlehands/idlehands/pkg/agent"
	"github.com/idlehands/idlehands/pkg/runtime"
)

// Registry owns the channel plugin registration pass and dispatches
// inbound messages. It constructs and owns the runtime handle reference
// given to plugins; concurrent registration is not supported: the host
// performs a single pass during startup.
type Registry struct {
	dispatch DispatchFunc
	runtime  *runtime.Handle
	tools    *agent.ToolSet
	logger   zerolog.Logger

	mu           sync.RWMutex
	plugins      map[string]Descriptor
	channels     map[string]Channel
	channelOrder []string
	started      map[string]bool
	registered   bool
}

// Config holds registry configuration.
type Config struct {
	Dispatch DispatchFunc
	Runtime  *runtime.Handle
	Tools    *agent.ToolSet
	Logger   zerolog.Logger
}

// NewRegistry constructs a channel plugin registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("runtime handle is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = agent.NewToolSet()
	}
	return &Registry{
		dispatch: cfg.Dispatch,
		runtime:  cfg.Runtime,
		tools:    cfg.Tools,
		logger:   cfg.Logger.With().Str("component", "channels").Logger(),
		plugins:  make(map[string]Descriptor),
		channels: make(map[string]Channel),
		started:  make(map[string]bool),
	}, nil
}

// RegisterAll performs the single registration pass in declaration
// order. Each plugin's Register is called exactly once per process
// lifetime; a duplicate plugin id is a fatal startup error.
func (r *Registry) RegisterAll(specs []PluginSpec) error {
	r.mu.Lock()
	if r.registered {
		r.mu.Unlock()
		return fmt.Errorf("plugin registration pass already performed")
	}
	r.registered = true
	r.mu.Unlock()

	for _, spec := range specs {
		if spec.Plugin == nil {
			return fmt.Errorf("plugin is required")
		}
		desc := spec.Plugin.Descriptor()
		id := strings.TrimSpace(desc.ID)
		if id == "" {
			return fmt.Errorf("plugin id is required")
		}

		r.mu.Lock()
		if _, exists := r.plugins[id]; exists {
			r.mu.Unlock()
			return fmt.Errorf("plugin %q already registered: two plugins cannot own the same channel namespace", id)
		}
		r.plugins[id] = desc
		r.mu.Unlock()

		if err := r.validateConfig(desc, spec.Config); err != nil {
			return fmt.Errorf("plugin %q config invalid: %w", id, err)
		}

		api := &registerAPI{registry: r, pluginID: id}
		if err := spec.Plugin.Register(api); err != nil {
			return fmt.Errorf("plugin %q registration failed: %w", id, err)
		}

		r.logger.Info().Str("plugin", id).Str("name", desc.Name).Msg("Channel plugin registered")
	}
	return nil
}

// validateConfig checks the raw config section against the plugin's
// JSON Schema, when it declares one.
func (r *Registry) validateConfig(desc Descriptor, cfg map[string]interface{}) error {
	schema := strings.TrimSpace(desc.ConfigSchema)
	if schema == "" {
		return nil
	}
	if cfg == nil {
		cfg = map[string]interface{}{}
	}

	document, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("schema violations: %s", strings.Join(messages, "; "))
	}
	return nil
}

// registerChannel adds a runnable adapter handed back by a plugin.
func (r *Registry) registerChannel(ch Channel) error {
	if ch == nil {
		return fmt.Errorf("channel is required")
	}
	name := strings.TrimSpace(ch.Name())
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	r.channels[name] = ch
	r.channelOrder = append(r.channelOrder, name)
	return nil
}

// IsRegistered returns true when the channel exists in the registry.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[strings.TrimSpace(name)]
	return ok
}

// Names returns channel names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.channelOrder...)
}

// Plugins returns registered plugin descriptors.
func (r *Registry) Plugins() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.plugins))
	for _, desc := range r.plugins {
		descs = append(descs, desc)
	}
	return descs
}

// Dispatch forwards an inbound message to the host dispatcher.
func (r *Registry) Dispatch(ctx context.Context, msg InboundMessage) (string, error) {
	if r.dispatch == nil {
		return "", fmt.Errorf("dispatch function is not configured")
	}

	msg.Channel = strings.TrimSpace(msg.Channel)
	if msg.Channel == "" {
		return "", fmt.Errorf("channel is required")
	}
	if !r.IsRegistered(msg.Channel) {
		return "", fmt.Errorf("channel %q is not registered", msg.Channel)
	}

	return r.dispatch(ctx, msg)
}

// StartAll starts channels in registration order. A channel that fails
// its startup preconditions (e.g. missing credentials) fails the whole
// pass: the host refuses to run with ambiguous authentication.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, name := range r.Names() {
		if err := r.Start(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops channels in reverse registration order.
func (r *Registry) StopAll(ctx context.Context) error {
	var firstErr error
	names := r.Names()
	for i := len(names) - 1; i >= 0; i-- {
		if err := r.Stop(ctx, names[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Start starts a registered channel by name.
func (r *Registry) Start(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	r.mu.Lock()
	ch, ok := r.channels[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("channel %q is not registered", name)
	}
	if r.started[name] {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := ch.Start(ctx, r.Dispatch); err != nil {
		return fmt.Errorf("failed to start channel %q: %w", name, err)
	}

	r.mu.Lock()
	r.started[name] = true
	r.mu.Unlock()

	r.logger.Info().Str("channel", name).Msg("Channel started")
	return nil
}

// Stop stops a registered channel by name.
func (r *Registry) Stop(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	r.mu.Lock()
	ch, ok := r.channels[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("channel %q is not registered", name)
	}
	if !r.started[name] {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := ch.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop channel %q: %w", name, err)
	}

	r.mu.Lock()
	delete(r.started, name)
	r.mu.Unlock()

	return nil
}

// registerAPI is the per-plugin capability object.
type registerAPI struct {
	registry *Registry
	pluginID string
}

func (a *registerAPI) Runtime() *runtime.Handle {
	return a.registry.runtime
}

func (a *registerAPI) RegisterChannel(ch Channel) error {
	return a.registry.registerChannel(ch)
}

func (a *registerAPI) RegisterTool(tool agent.Tool) error {
	return a.registry.tools.Register(tool)
}

func (a *registerAPI) Logger() zerolog.Logger {
	return a.registry.logger.With().Str("plugin", a.pluginID).Logger()
}
