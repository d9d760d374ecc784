package hooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Bus fires lifecycle events to registered hook plugins. Invocation
// order is registration order. A handler failure is logged and does not
// prevent the remaining handlers from running; all handler errors are
// joined into the return value so the agent loop can observe a
// loop-break signal raised inside a handler.
type Bus struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	plugins []Plugin
}

// NewBus creates a hook plugin bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "hooks").Logger(),
	}
}

// Register adds a hook plugin. Plugins registered first are invoked first.
func (b *Bus) Register(plugin Plugin) error {
	name := strings.TrimSpace(plugin.Name)
	if name == "" {
		return fmt.Errorf("hook plugin name is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.plugins {
		if existing.Name == name {
			return fmt.Errorf("hook plugin %q already registered", name)
		}
	}

	plugin.Name = name
	b.plugins = append(b.plugins, plugin)
	return nil
}

// Plugins returns registered plugin names in registration order.
func (b *Bus) Plugins() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.plugins))
	for _, plugin := range b.plugins {
		names = append(names, plugin.Name)
	}
	return names
}

// Emit invokes every handler registered for the event, in registration
// order. Handler errors are joined; the caller decides whether any of
// them is fatal.
func (b *Bus) Emit(ctx context.Context, event Event, payload Payload) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.RLock()
	plugins := append([]Plugin(nil), b.plugins...)
	b.mu.RUnlock()

	var errs []error
	for _, plugin := range plugins {
		handler, ok := plugin.Hooks[event]
		if ok && handler == nil {
			ok = false
		}
		if !ok {
			continue
		}
		if err := b.invoke(ctx, plugin.Name, event, handler, payload); err != nil {
			b.logger.Warn().
				Str("plugin", plugin.Name).
				Str("event", string(event)).
				Err(err).
				Msg("Hook handler failed")
			errs = append(errs, fmt.Errorf("hook %s/%s: %w", plugin.Name, event, err))
		}
	}

	return errors.Join(errs...)
}

// invoke runs one handler, converting a panic to an error so a broken
// observer cannot take down the agent loop.
func (b *Bus) invoke(ctx context.Context, name string, event Event, handler Handler, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}
