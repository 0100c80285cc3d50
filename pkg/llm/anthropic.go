package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/agentflow/pkg/conversation"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicCompleter implements Completer on the Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
}

// NewAnthropicCompleter creates a completer; baseURL may be empty.
func NewAnthropicCompleter(apiKey, baseURL string) *AnthropicCompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicCompleter{client: anthropic.NewClient(opts...)}
}

// Complete implements Completer.
func (p *AnthropicCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := []anthropic.MessageParam{}
	system := []anthropic.TextBlockParam{}
	if req.SystemPrompt != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.SystemPrompt})
	}

	for _, msg := range req.Messages {
		switch m := msg.(type) {
		case conversation.UserMessage:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case conversation.AssistantMessage:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		case conversation.SystemMessage:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case conversation.DeveloperMessage:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		}
	}

	for _, ex := range req.Exchanges {
		blocks := []anthropic.ContentBlockParamUnion{}
		if ex.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(ex.Content))
		}
		for _, tc := range ex.Calls {
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleAssistant,
			Content: blocks,
		})

		results := []anthropic.ContentBlockParamUnion{}
		for _, res := range ex.Results {
			results = append(results, anthropic.NewToolResultBlock(res.CallID, res.Content, res.IsError))
		}
		if len(results) > 0 {
			messages = append(messages, anthropic.NewUserMessage(results...))
		}
	}

	maxTokens := req.Settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Settings.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Settings.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Settings.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}
			if required, ok := tool.Parameters["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	out := &Response{
		Usage: Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ParseToolCall(b.ID, b.Name, b.JSON.Input.Raw()))
		}
	}
	return out, nil
}
