package hooks

import "context"

// Event identifies an agent-loop lifecycle event.
type Event string

const (
	// EventStartup fires once when the daemon is ready.
	EventStartup Event = "startup"
	// EventAskStart fires before any tool or model work in a turn.
	EventAskStart Event = "ask_start"
	// EventAskEnd fires after a turn completes or aborts.
	EventAskEnd Event = "ask_end"
)

// Payload carries event data to hook handlers. Fields are populated
// per event: ask_start sets AskID, Instruction, and Model; ask_end sets
// AskID, Turns, ToolCalls, and Aborted.
type Payload struct {
	AskID       string
	Instruction string
	Model       string
	Turns       int
	ToolCalls   int
	Aborted     bool
}

// Handler observes a single lifecycle event.
type Handler func(ctx context.Context, payload Payload) error

// Plugin is a hook plugin: a name and a partial mapping from event to
// handler. Handlers are advisory; they cannot alter the agent loop's
// control flow except by returning a loop-break signal.
type Plugin struct {
	Name  string
	Hooks map[Event]Handler
}
