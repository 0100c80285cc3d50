package filter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/agentflow/pkg/conversation"
)

const defaultModerationResponse = "I'm sorry, I can't help with that request."

// Moderation blocks messages containing configured keywords or patterns and
// answers with a fixed response instead.
type Moderation struct {
	keywords []string
	patterns []*regexp.Regexp
	response string
}

// NewModeration compiles patterns. An empty response uses a default refusal.
func NewModeration(keywords, patterns []string, response string) (*Moderation, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	if response == "" {
		response = defaultModerationResponse
	}
	return &Moderation{keywords: keywords, patterns: compiled, response: response}, nil
}

func (m *Moderation) Name() string { return "moderation" }

// Check returns a reason when text contains blocked content.
func (m *Moderation) Check(text string) (string, bool) {
	normalized := strings.ToLower(text)
	for _, kw := range m.keywords {
		if strings.Contains(normalized, strings.ToLower(kw)) {
			return "blocked keyword: " + kw, true
		}
	}
	for i, re := range m.patterns {
		if re.MatchString(text) {
			return fmt.Sprintf("blocked pattern #%d", i+1), true
		}
	}
	return "", false
}

func (m *Moderation) FilterInput(_ context.Context, _ *Context, msg conversation.Message) (Decision, error) {
	if reason, blocked := m.Check(msg.Text()); blocked {
		return Respond{Content: m.response, Reason: reason}, nil
	}
	return Pass(msg), nil
}

func (m *Moderation) FilterOutput(_ context.Context, _ *Context, msg conversation.AssistantMessage) (Decision, error) {
	if reason, blocked := m.Check(msg.Content); blocked {
		return Respond{Content: m.response, Reason: reason}, nil
	}
	return Pass(msg), nil
}
