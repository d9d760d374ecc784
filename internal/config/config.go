// Package config loads the idlehands configuration file. Channel
// sections stay as raw maps; each plugin validates its own section
// against its schema during registration.
package config

import (
	"encoding/json"
	"fmt"
)

// Config is the top-level idlehands configuration.
type Config struct {
	// DataDir holds runtime state, pairing files, and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging   LoggingConfig                     `json:"logging" mapstructure:"logging"`
	Agent     AgentConfig                       `json:"agent" mapstructure:"agent"`
	Runtime   RuntimeConfig                     `json:"runtime" mapstructure:"runtime"`
	Gateway   GatewayConfig                     `json:"gateway" mapstructure:"gateway"`
	Metrics   MetricsConfig                     `json:"metrics" mapstructure:"metrics"`
	Heartbeat HeartbeatConfig                   `json:"heartbeat" mapstructure:"heartbeat"`
	Channels  map[string]map[string]interface{} `json:"channels" mapstructure:"channels"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	SystemPrompt         string  `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature          float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens            int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxTurns             int     `json:"max_turns" mapstructure:"max_turns"`
	PreferredModelFamily string  `json:"preferred_model_family" mapstructure:"preferred_model_family"`
	// AnthropicAPIKey enables the anthropic backend.
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
}

// RuntimeConfig controls backend discovery at startup.
type RuntimeConfig struct {
	// StorePath overrides where the runtime store lives. Defaults to
	// <data_dir>/runtime.json.
	StorePath string `json:"store_path" mapstructure:"store_path"`
	// WaitOnStart blocks startup until the endpoint answers probes.
	WaitOnStart bool `json:"wait_on_start" mapstructure:"wait_on_start"`
}

// GatewayConfig holds the local WebSocket control plane settings.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
	Token   string `json:"token" mapstructure:"token"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// HeartbeatConfig drives the optional cron wake.
type HeartbeatConfig struct {
	// Schedule is a cron expression; "@every 30m" also works. Empty
	// disables the heartbeat.
	Schedule    string `json:"schedule" mapstructure:"schedule"`
	Instruction string `json:"instruction" mapstructure:"instruction"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Agent: AgentConfig{
			Temperature:          0.7,
			MaxTokens:            4096,
			MaxTurns:             10,
			PreferredModelFamily: "qwen",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9611,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9612",
		},
		Heartbeat: HeartbeatConfig{
			Instruction: "Check in: anything pending that needs attention?",
		},
		Channels: map[string]map[string]interface{}{},
	}
}

// String renders the config as indented JSON.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}
