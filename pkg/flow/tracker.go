package flow

import (
	"context"
	"regexp"
	"strings"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/filter"
)

var useCaseTag = regexp.MustCompile(`<ID:(.*?)>`)

// TrackerInstruction asks the model to tag answers with the use case it
// followed.
const TrackerInstruction = "When your answer follows one of the use cases above, " +
	"append <ID:use_case_id> with the id of that use case to the end of your answer."

// Tracker is an output filter that removes "<ID:use-case>" tags from answers
// and records the ids as used in the conversation once the answer is stored.
type Tracker struct {
	engine *Engine
}

// NewTracker creates a tracker recording through engine.
func NewTracker(engine *Engine) *Tracker {
	return &Tracker{engine: engine}
}

func (t *Tracker) Name() string { return "use_case_tracker" }

func (t *Tracker) FilterOutput(ctx context.Context, fc *filter.Context, msg conversation.AssistantMessage) (filter.Decision, error) {
	matches := useCaseTag.FindAllStringSubmatch(msg.Content, -1)
	if len(matches) == 0 {
		return filter.Pass(msg), nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if id := strings.TrimSpace(m[1]); id != "" {
			ids = append(ids, id)
		}
	}
	conversationID := fc.ConversationID()
	fc.OnCommit(func(ctx context.Context) error {
		return t.engine.RecordUsed(ctx, conversationID, ids...)
	})

	cleaned := strings.TrimSpace(useCaseTag.ReplaceAllString(msg.Content, ""))
	return filter.Continue{Message: msg.WithText(cleaned)}, nil
}
