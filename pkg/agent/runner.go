package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/idlehands/idlehands/internal/metrics"
	"github.com/idlehands/idlehands/pkg/hooks"
	"github.com/idlehands/idlehands/pkg/lanes"
	"github.com/idlehands/idlehands/pkg/runtime"
)

const (
	// DefaultMaxTurns bounds the tool loop within one agent turn.
	DefaultMaxTurns = 10
	// DefaultMaxRetries bounds model call retries.
	DefaultMaxRetries = 3
	// DefaultRetryBackoff is the base delay for retry backoff.
	DefaultRetryBackoff = time.Second
)

// Runner executes agent turns against the active runtime backend.
type Runner struct {
	provider Provider
	tools    *ToolSet
	bus      *hooks.Bus
	queue    *lanes.Queue
	handle   *runtime.Handle
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	systemPrompt string
	temperature  float64
	maxTokens    int
	maxTurns     int
	maxRetries   int
	retryBackoff time.Duration

	// Active turns keyed by session, for abort capability.
	runsMu     sync.RWMutex
	activeRuns map[string]context.CancelFunc
}

// Config holds runner configuration.
type Config struct {
	Provider     Provider
	Tools        *ToolSet
	Bus          *hooks.Bus
	Queue        *lanes.Queue
	Handle       *runtime.Handle
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	MaxTurns     int
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewRunner creates an agent runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("lane queue is required")
	}
	if cfg.Handle == nil {
		return nil, fmt.Errorf("runtime handle is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = NewToolSet()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	return &Runner{
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		bus:          cfg.Bus,
		queue:        cfg.Queue,
		handle:       cfg.Handle,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With().Str("component", "agent").Logger(),
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		maxTurns:     cfg.MaxTurns,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		activeRuns:   make(map[string]context.CancelFunc),
	}, nil
}

// Ask executes one agent turn. Turns sharing a session key are
// serialized on a lane; turns for distinct keys run concurrently.
func (r *Runner) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(req.SessionKey) == "" {
		return nil, fmt.Errorf("session key is required")
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("instruction is required")
	}
	if req.AskID == "" {
		req.AskID = uuid.NewString()
	}

	lane := "session:" + req.SessionKey
	value, err := r.queue.Enqueue(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return r.executeTurn(taskCtx, req)
	})
	if err != nil {
		if result, ok := value.(*AskResult); ok {
			return result, err
		}
		return nil, err
	}
	return value.(*AskResult), nil
}

// Abort cancels the in-flight turn for a session.
func (r *Runner) Abort(sessionKey string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[sessionKey]
	if !exists {
		r.logger.Debug().Str("session_key", sessionKey).Msg("No active turn to abort")
		return
	}

	r.logger.Info().Str("session_key", sessionKey).Msg("Aborting agent turn")
	cancel()
	delete(r.activeRuns, sessionKey)
}

// IsRunning checks if a turn is currently executing for a session.
func (r *Runner) IsRunning(sessionKey string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()
	_, exists := r.activeRuns[sessionKey]
	return exists
}

// executeTurn runs the turn state machine: Running, then Completed or
// Aborted. ask_end fires on every exit path once ask_start has fired.
func (r *Runner) executeTurn(ctx context.Context, req AskRequest) (*AskResult, error) {
	logger := r.logger.With().Str("session_key", req.SessionKey).Str("ask_id", req.AskID).Logger()

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[req.SessionKey] = cancel
	r.runsMu.Unlock()
	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, req.SessionKey)
		r.runsMu.Unlock()
	}()

	result := &AskResult{
		AskID:      req.AskID,
		SessionKey: req.SessionKey,
		State:      StateRunning,
	}
	if r.metrics != nil {
		r.metrics.TurnsStartedTotal.Inc()
	}
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.TurnsTotal.WithLabelValues(string(result.State)).Inc()
			r.metrics.TurnDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// ask_start fires before any tool or model work. A loop-break raised
	// by a hook handler is a fatal abort of the turn; other handler
	// failures are advisory.
	if err := r.emit(execCtx, hooks.EventAskStart, hooks.Payload{
		AskID:       req.AskID,
		Instruction: req.Instruction,
		Model:       r.handle.Model(),
	}); err != nil {
		if IsLoopBreak(err) {
			result.State = StateAborted
			r.fireAskEnd(ctx, result)
			return result, err
		}
		logger.Warn().Err(err).Msg("ask_start hook failure")
	}

	messages := []Message{{Role: "user", Content: req.Instruction}}
	toolSpecs := r.tools.Specs()

	for turn := 0; turn < r.maxTurns; turn++ {
		select {
		case <-execCtx.Done():
			result.State = StateAborted
			r.fireAskEnd(ctx, result)
			return result, execCtx.Err()
		default:
		}

		result.Turns = turn + 1

		response, err := r.completeWithRetry(execCtx, messages, toolSpecs)
		if err != nil {
			result.State = StateAborted
			r.fireAskEnd(ctx, result)
			return result, err
		}
		result.Usage = response.Usage

		if len(response.ToolCalls) == 0 {
			result.Reply = response.Content
			result.State = StateCompleted
			if err := r.fireAskEnd(ctx, result); err != nil && IsLoopBreak(err) {
				result.State = StateAborted
				return result, err
			}
			return result, nil
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, call := range response.ToolCalls {
			toolResult, err := r.executeTool(execCtx, call)
			if err != nil {
				// A loop-break signal crosses this recovery boundary
				// unmodified. Everything else becomes conversational
				// data for the model.
				if IsLoopBreak(err) {
					logger.Info().Str("tool", call.Name).Err(err).Msg("Loop break raised by tool")
					result.State = StateAborted
					r.fireAskEnd(ctx, result)
					return result, err
				}
				logger.Debug().Str("tool", call.Name).Err(err).Msg("Tool failed, reporting to model")
				toolResult = ToolResult{ToolCallID: call.ID, Error: err.Error()}
			}

			content := toolResult.Output
			if toolResult.Error != "" {
				content = "error: " + toolResult.Error
			}
			messages = append(messages, Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
			result.ToolCalls = append(result.ToolCalls, call)
		}
	}

	result.State = StateAborted
	r.fireAskEnd(ctx, result)
	return result, fmt.Errorf("maximum tool turns (%d) exceeded", r.maxTurns)
}

// executeTool runs one tool invocation.
func (r *Runner) executeTool(ctx context.Context, call ToolCall) (ToolResult, error) {
	tool, ok := r.tools.Get(call.Name)
	if !ok {
		return ToolResult{}, fmt.Errorf("tool not found: %s", call.Name)
	}

	output, err := tool.Execute(ctx, call.Parameters)
	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.ToolExecutionsTotal.WithLabelValues(call.Name, status).Inc()
	}
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{ToolCallID: call.ID, Output: output}, nil
}

// completeWithRetry calls the model with exponential backoff on
// transient failures.
func (r *Runner) completeWithRetry(ctx context.Context, messages []Message, toolSpecs []map[string]interface{}) (*Response, error) {
	request := Request{
		Model:        r.handle.Model(),
		Messages:     messages,
		Tools:        toolSpecs,
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
		SystemPrompt: r.systemPrompt,
	}

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		response, err := r.provider.Complete(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == r.maxRetries-1 {
			break
		}

		delay := r.retryBackoff * (1 << attempt)
		r.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

// fireAskEnd emits ask_end with the turn's terminal stats. It fires on
// completion and on abort, using a fresh context so a cancelled turn
// still reports.
func (r *Runner) fireAskEnd(ctx context.Context, result *AskResult) error {
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	err := r.emit(ctx, hooks.EventAskEnd, hooks.Payload{
		AskID:     result.AskID,
		Turns:     result.Turns,
		ToolCalls: len(result.ToolCalls),
		Aborted:   result.State == StateAborted,
	})
	if err != nil && !IsLoopBreak(err) {
		r.logger.Warn().Err(err).Msg("ask_end hook failure")
	}
	return err
}

// emit fires a hook event when a bus is configured.
func (r *Runner) emit(ctx context.Context, event hooks.Event, payload hooks.Payload) error {
	if r.bus == nil {
		return nil
	}
	err := r.bus.Emit(ctx, event, payload)
	if err != nil && r.metrics != nil {
		r.metrics.HookFailuresTotal.WithLabelValues(string(event)).Inc()
	}
	return err
}
