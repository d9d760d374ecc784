package channels

import (
	"github.com/rs/zerolog"

	"github.com/idlehands/idlehands/pkg/agent"
	"github.com/idlehands/idlehands/pkg/runtime"
)

// Descriptor identifies a channel plugin. ConfigSchema is a JSON Schema
// document; when non-empty the plugin's raw config section is validated
// against it before Register is called.
type Descriptor struct {
	ID           string
	Name         string
	Description  string
	ConfigSchema string
}

// RegisterAPI is the capability object handed to a plugin's Register
// call. Plugins keep the runtime handle as a non-owning reference in
// their own instance state; they must not share it through globals.
type RegisterAPI interface {
	// Runtime returns the active backend connection handle.
	Runtime() *runtime.Handle
	// RegisterChannel hands a runnable adapter back to the host.
	RegisterChannel(ch Channel) error
	// RegisterTool exposes a channel-provided tool to the agent loop.
	RegisterTool(tool agent.Tool) error
	// Logger returns a child logger scoped to the plugin.
	Logger() zerolog.Logger
}

// Plugin is the uniform registration contract each channel adapter
// implements. Register is called exactly once per process lifetime,
// synchronously during the startup pass, and must not block on network
// I/O; adapters defer I/O to their Channel.Start.
type Plugin interface {
	Descriptor() Descriptor
	Register(api RegisterAPI) error
}

// PluginSpec pairs a plugin with its raw configuration section.
type PluginSpec struct {
	Plugin Plugin
	Config map[string]interface{}
}
