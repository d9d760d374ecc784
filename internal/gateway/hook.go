package gateway

import (
	"context"

	"github.com/idlehands/idlehands/pkg/hooks"
)

// HookPlugin forwards agent lifecycle events to subscribed gateway
// clients.
func (s *Server) HookPlugin() hooks.Plugin {
	return hooks.Plugin{
		Name: "gateway-events",
		Hooks: map[hooks.Event]hooks.Handler{
			hooks.EventAskStart: func(_ context.Context, p hooks.Payload) error {
				s.Broadcast("ask_start", eventPayload(p))
				return nil
			},
			hooks.EventAskEnd: func(_ context.Context, p hooks.Payload) error {
				s.Broadcast("ask_end", eventPayload(p))
				return nil
			},
		},
	}
}

func eventPayload(p hooks.Payload) map[string]interface{} {
	return map[string]interface{}{
		"askId":     p.AskID,
		"model":     p.Model,
		"turns":     p.Turns,
		"toolCalls": p.ToolCalls,
		"aborted":   p.Aborted,
	}
}
