package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/llm"
)

// NoMatch is returned by a Classifier when no label fits the input.
const NoMatch = "NO_MATCH"

const classifierPrompt = `You are an assistant that analyzes user input and matches it to a list of possible options.

### Rules:
- Choose exactly one option from the list that best matches the user input.
- Return only the option text, exactly as written in the list.
- If the user input does not match any option, you must return: NO_MATCH
- Do not explain your answer.
- Match the user intent even if the language is different.

### Examples:
User input: "sure"
Options:
- yes
- no
Answer: yes

User input: "makes sense"
Options:
- yes
- no
Answer: yes

User input: "blue"
Options:
- user chooses a color
- user asks for the price
Answer: user chooses a color

User input: "what time is it?"
Options:
- yes
- no
Answer: NO_MATCH`

// Classifier picks the label matching input, or NoMatch.
type Classifier interface {
	Classify(ctx context.Context, input string, labels []string) (string, error)
}

// LLMClassifier asks a model to pick a label.
type LLMClassifier struct {
	completer llm.Completer
	settings  llm.Settings
}

// NewLLMClassifier creates a classifier using completer with settings.
func NewLLMClassifier(completer llm.Completer, settings llm.Settings) *LLMClassifier {
	return &LLMClassifier{completer: completer, settings: settings}
}

func (c *LLMClassifier) Classify(ctx context.Context, input string, labels []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "User input: %q\n\nOptions:", input)
	for _, l := range labels {
		b.WriteString("\n- " + l)
	}

	resp, err := c.completer.Complete(ctx, llm.Request{
		SystemPrompt: classifierPrompt,
		Messages:     []conversation.Message{conversation.User(b.String())},
		Settings:     c.settings,
	})
	if err != nil {
		return "", fmt.Errorf("flow option classification failed: %w", err)
	}

	answer := strings.TrimSpace(resp.Content)
	answer = strings.TrimSpace(strings.TrimPrefix(answer, "-"))
	answer = strings.TrimPrefix(answer, "Answer:")
	return strings.TrimSpace(answer), nil
}
