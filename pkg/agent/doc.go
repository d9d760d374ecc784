// Package agent executes LLM-backed agent turns with a bounded tool loop.
//
// Invariants:
// - Turns sharing a session key are serialized through lanes.
// - ask_start fires before any tool or model work; ask_end fires after the
//   turn completes or aborts.
// - A loop-break signal crosses the per-tool recovery boundary unmodified;
//   every other tool error becomes conversational data for the model.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	result, _ := runner.Ask(ctx, agent.AskRequest{
//		SessionKey:  "slack:default",
//		Instruction: "hello",
//	})
//	_ = result
package agent
