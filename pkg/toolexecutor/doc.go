// Package toolexecutor registers tools and drives the tool-call loop of a turn.
//
// Invariants:
// - Tool names are unique.
// - Arguments are schema-validated before a handler runs.
// - One Budget bounds every tool call of a turn; the call that would exceed
//   it is never issued.
// - Tool failures are answered to the model as error results, never raised.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry()
//	_ = reg.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "get_weather",
//		Description: "Current weather for a city",
//		Parameters: []toolexecutor.ToolParameter{{Name: "city", Type: "string", Description: "city", Required: true}},
//		Handler: func(ctx context.Context, params map[string]any) (string, error) { return "sunny", nil },
//	})
//	tools, _ := reg.Toolset("get_weather")
//	loop := toolexecutor.NewLoop(completer, zerolog.Nop())
//	result, err := loop.Run(ctx, req, tools, toolexecutor.NewBudget(60))
package toolexecutor
