package flow

import (
	"regexp"
	"strings"

	"github.com/harun/agentflow/pkg/usecase"
)

// ResetCommand as an option command clears the flow.
const ResetCommand = "RESET"

var optionRegex = regexp.MustCompile(`^\[(.*?)\]\s*([^(]+)`)

// Option is one "[label] command" branch of a flow step.
type Option struct {
	Label   string
	Command string
}

// Reference returns the id of the first use case referenced by the command.
func (o Option) Reference() (string, bool) {
	_, refs := usecase.ParseReferences(o.Command)
	if len(refs) == 0 {
		return "", false
	}
	ref := refs[0]
	return ref[strings.LastIndex(ref, "/")+1:], true
}

// IsCatchAll reports whether the option takes any unmatched answer.
func (o Option) IsCatchAll() bool {
	return o.Label == "" || strings.EqualFold(o.Label, "else")
}

// Options is a step's option set plus its text without option lines.
type Options struct {
	Options []Option
	Content string
}

// ParseOption parses one line. Markdown links such as "[docs](url)" are not
// options.
func ParseOption(line string) (Option, bool) {
	m := optionRegex.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Option{}, false
	}
	cmd := strings.TrimSpace(m[2])
	if cmd == "" {
		return Option{}, false
	}
	return Option{Label: strings.TrimSpace(m[1]), Command: cmd}, true
}

// Extract splits content into options and the remaining text.
func Extract(content string) Options {
	var (
		opts Options
		kept []string
	)
	for _, line := range strings.Split(content, "\n") {
		if o, ok := ParseOption(line); ok {
			opts.Options = append(opts.Options, o)
			continue
		}
		kept = append(kept, line)
	}
	opts.Content = strings.Join(kept, "\n")
	return opts
}

// HasOptions reports whether content contains at least one option line.
func HasOptions(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if _, ok := ParseOption(line); ok {
			return true
		}
	}
	return false
}

// Strip removes option lines from content.
func Strip(content string) string {
	return Extract(content).Content
}

// labels returns the non-empty option labels.
func labels(options []Option) []string {
	out := make([]string, 0, len(options))
	for _, o := range options {
		if o.Label != "" {
			out = append(out, o.Label)
		}
	}
	return out
}
