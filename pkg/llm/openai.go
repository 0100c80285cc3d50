package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompleter implements Completer on the Chat Completions API.
type OpenAICompleter struct {
	client openai.Client
}

// NewOpenAICompleter creates a completer; baseURL may be empty.
func NewOpenAICompleter(apiKey, baseURL string) *OpenAICompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompleter{client: openai.NewClient(opts...)}
}

// Complete implements Completer.
func (p *OpenAICompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch m := msg.(type) {
		case conversation.UserMessage:
			messages = append(messages, openai.UserMessage(m.Content))
		case conversation.AssistantMessage:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case conversation.SystemMessage:
			messages = append(messages, openai.SystemMessage(m.Content))
		case conversation.DeveloperMessage:
			messages = append(messages, openai.SystemMessage(m.Content))
		}
	}

	for _, ex := range req.Exchanges {
		toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(ex.Calls))
		for _, tc := range ex.Calls {
			args := tc.RawArguments
			if args == "" {
				raw, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				args = string(raw)
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		assistant := openai.ChatCompletionMessage{
			Role:      "assistant",
			Content:   ex.Content,
			ToolCalls: toolCalls,
		}
		messages = append(messages, assistant.ToParam())
		for _, res := range ex.Results {
			messages = append(messages, openai.ToolMessage(res.Content, res.CallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Settings.Model),
		Messages: messages,
	}
	if req.Settings.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.Settings.MaxTokens))
	}
	if req.Settings.Temperature > 0 {
		params.Temperature = openai.Float(req.Settings.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	out := &Response{
		Content: choice.Message.Content,
		Usage: Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ParseToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return out, nil
}
