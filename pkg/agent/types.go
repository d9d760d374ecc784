package agent

import "strings"

// TurnState is the agent turn state machine.
type TurnState string

const (
	StateIdle      TurnState = "idle"
	StateRunning   TurnState = "running"
	StateCompleted TurnState = "completed"
	StateAborted   TurnState = "aborted"
)

// AskRequest contains input parameters for one agent turn.
type AskRequest struct {
	AskID       string                 `json:"ask_id,omitempty"`
	SessionKey  string                 `json:"session_key"`
	Instruction string                 `json:"instruction"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AskResult contains output from one agent turn.
type AskResult struct {
	AskID      string      `json:"ask_id"`
	SessionKey string      `json:"session_key"`
	Reply      string      `json:"reply"`
	State      TurnState   `json:"state"`
	Turns      int         `json:"turns"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolResult represents the outcome of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message represents a message in the conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// IsRetryableError checks if a model call error should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}
