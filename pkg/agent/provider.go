package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/idlehands/idlehands/pkg/runtime"
)

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []map[string]interface{}
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response contains the model's reply.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Provider is an LLM backend the agent loop talks to.
type Provider interface {
	// Complete makes one model call.
	Complete(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// ProviderCredentials carries API credentials for hosted backends.
type ProviderCredentials struct {
	APIKey string
}

// NewProvider selects a provider by the runtime handle's backend name.
// "anthropic" talks to the hosted Anthropic API; everything else is
// treated as an OpenAI-compatible local server at the handle's endpoint
// (LM Studio, llama.cpp server, vLLM).
func NewProvider(handle *runtime.Handle, creds ProviderCredentials) (Provider, error) {
	if handle == nil {
		return nil, fmt.Errorf("runtime handle is required")
	}

	backend := strings.ToLower(strings.TrimSpace(handle.Backend()))
	switch backend {
	case "anthropic":
		if strings.TrimSpace(creds.APIKey) == "" {
			return nil, fmt.Errorf("anthropic backend requires an API key")
		}
		return NewAnthropicProvider(creds.APIKey), nil
	case "", "lmstudio", "openai", "llamacpp", "vllm":
		if strings.TrimSpace(handle.Endpoint()) == "" {
			return nil, fmt.Errorf("backend %q requires an endpoint", backend)
		}
		return NewLMStudioProvider(handle.Endpoint(), creds.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}
