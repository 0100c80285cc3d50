// Package agent runs single conversation turns of an agent definition.
//
// Invariants:
// - A turn only appends to the conversation transcript.
// - Retries restart filters, prompt and completion with a merged retry signal,
//   at most the configured number of times.
// - One tool call budget bounds the whole turn, retries included.
// - Every fatal error is returned as *FailedError.
//
// Usage:
//
//	exec, _ := agent.NewExecutor(agent.Config{Completer: completer, Tools: tools})
//	def := &agent.Definition{Name: "support", SystemPrompt: agent.StaticPrompt("Be brief.")}
//	conv, err := exec.Execute(ctx, def, conv, agent.ExecContext{})
package agent
