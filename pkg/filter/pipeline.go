package filter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/conversation"
)

// Pipeline runs input and output filters in declared order. The first
// decision other than Continue ends the chain.
type Pipeline struct {
	inputs  []InputFilter
	outputs []OutputFilter
	logger  zerolog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(inputs []InputFilter, outputs []OutputFilter, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		inputs:  append([]InputFilter(nil), inputs...),
		outputs: append([]OutputFilter(nil), outputs...),
		logger:  logger,
	}
}

// RunInput filters the latest user message. A filter error aborts the chain.
func (p *Pipeline) RunInput(ctx context.Context, fc *Context, msg conversation.Message) (Decision, error) {
	current := msg
	for _, f := range p.inputs {
		spanCtx, span := tracing.StartSpan(ctx, "filter.input."+f.Name())
		decision, err := f.FilterInput(spanCtx, fc, current)
		tracing.EndSpan(span, err)
		if err != nil {
			return nil, fmt.Errorf("input filter %s: %w", f.Name(), err)
		}

		next, done, err := p.step(f.Name(), decision)
		if err != nil {
			return nil, err
		}
		if done {
			return decision, nil
		}
		if next != nil {
			current = next
		}
	}
	return Continue{Message: current}, nil
}

// RunOutput filters the assistant message. Rewrites must stay assistant
// messages.
func (p *Pipeline) RunOutput(ctx context.Context, fc *Context, msg conversation.AssistantMessage) (Decision, error) {
	current := msg
	for _, f := range p.outputs {
		spanCtx, span := tracing.StartSpan(ctx, "filter.output."+f.Name())
		decision, err := f.FilterOutput(spanCtx, fc, current)
		tracing.EndSpan(span, err)
		if err != nil {
			return nil, fmt.Errorf("output filter %s: %w", f.Name(), err)
		}

		next, done, err := p.step(f.Name(), decision)
		if err != nil {
			return nil, err
		}
		if done {
			return decision, nil
		}
		if next != nil {
			am, ok := next.(conversation.AssistantMessage)
			if !ok {
				return nil, fmt.Errorf("output filter %s returned a %s message", f.Name(), next.Role())
			}
			current = am
		}
	}
	return Continue{Message: current}, nil
}

func (p *Pipeline) step(name string, d Decision) (conversation.Message, bool, error) {
	switch d := d.(type) {
	case nil:
		return nil, false, nil
	case Continue:
		return d.Message, false, nil
	case Drop:
		p.logger.Debug().Str("filter", name).Str("reason", d.Reason).Msg("Message dropped")
		return nil, true, nil
	case Retry:
		p.logger.Debug().Str("filter", name).Str("reason", d.Reason).Int("max", d.Max).Msg("Retry requested")
		return nil, true, nil
	case Handover:
		p.logger.Debug().Str("filter", name).Str("agent", d.Agent).Msg("Handover requested")
		return nil, true, nil
	case Respond:
		p.logger.Debug().Str("filter", name).Str("reason", d.Reason).Msg("Filter responded")
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("filter %s returned unknown decision %T", name, d)
	}
}
