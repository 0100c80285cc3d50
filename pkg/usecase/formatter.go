package usecase

import (
	"fmt"
	"regexp"
	"strings"
)

var tripleNewlines = regexp.MustCompile(`\n{3,}`)

// FormatOptions controls how a use case is rendered for a prompt.
type FormatOptions struct {
	Conditions Conditions
	// Input is the latest user text, used by regex: conditions.
	Input          string
	UseAlternative bool
	UseFallback    bool
	// Used counts prior executions per use case id; it adds a "step_N"
	// condition where N is the count plus one.
	Used map[string]int
}

// Format renders one use case as a prompt section.
func Format(u UseCase, opts FormatOptions) string {
	conds := opts.Conditions.With(fmt.Sprintf("step_%d", opts.Used[u.ID]+1))

	var b strings.Builder
	fmt.Fprintf(&b, "### UseCase: %s\n", u.ID)
	fmt.Fprintf(&b, "#### Description\n%s\n\n", u.Description)

	if len(u.Steps) > 0 {
		fmt.Fprintf(&b, "#### Steps\n%s\n\n", FormatConditionals(u.Steps, conds, opts.Input))
	}

	switch {
	case opts.UseAlternative && len(u.Alternative) > 0:
		fmt.Fprintf(&b, "#### Solution\n%s\n\n", FormatConditionals(u.Alternative, conds, opts.Input))
	case opts.UseFallback && len(u.Fallback) > 0:
		fmt.Fprintf(&b, "#### Solution\n%s\n\n", FormatConditionals(u.Fallback, conds, opts.Input))
	default:
		fmt.Fprintf(&b, "#### Solution\n%s\n\n", FormatConditionals(u.Solution, conds, opts.Input))
	}

	if ex := strings.TrimSpace(u.Examples); ex != "" {
		fmt.Fprintf(&b, "#### Examples\n%s\n\n", ex)
	}
	b.WriteString("\n----\n\n")

	return tripleNewlines.ReplaceAllString(b.String(), "\n\n")
}

// FormatAll renders every use case in set enabled under opts.
func FormatAll(set Set, opts FormatOptions) string {
	var b strings.Builder
	for _, u := range set {
		if u.SubUseCase || !u.Matches(opts.Conditions, opts.Input) {
			continue
		}
		b.WriteString(Format(u, opts))
	}
	return b.String()
}

// FormatConditionals renders lines, dropping those whose conditions do not
// hold. A gated line opens a block that runs until the next gated line or a
// "</>" line; the block is only kept when its opening conditions hold.
func FormatConditionals(lines []Conditional, active Conditions, input string) string {
	var (
		out        strings.Builder
		block      strings.Builder
		blockConds []string
	)

	for _, line := range lines {
		if len(line.Conditions) > 0 {
			if active.Satisfies(blockConds, input) {
				out.WriteString(block.String())
			}
			block.Reset()
			blockConds = line.Conditions
		}

		if active.Satisfies(line.Conditions, input) && line.Text != "" {
			block.WriteString(line.Text)
			block.WriteString("\n")
		}

		if line.EndsBlock {
			if active.Satisfies(blockConds, input) {
				out.WriteString(block.String())
			}
			block.Reset()
			blockConds = nil
		}
	}
	if active.Satisfies(blockConds, input) {
		out.WriteString(block.String())
	}

	return strings.TrimSpace(out.String())
}
