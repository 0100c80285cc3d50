package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

type section int

const (
	sectionNone section = iota
	sectionSubStart
	sectionDescription
	sectionGoal
	sectionSolution
	sectionAlternative
	sectionFallback
	sectionSteps
	sectionExamples
)

var (
	headerRegex     = regexp.MustCompile(`^\s*([^(\s]+)\s*(?:\(\s*(\d*)\s*\))?\s*$`)
	conditionsRegex = regexp.MustCompile(`<(.*?)>`)
	versionRegex    = regexp.MustCompile(`(?i)^\s*version:\s*(\S+)\s*$`)
	functionRegex   = regexp.MustCompile(`@([0-9A-Za-z_\-]+?)\(\)`)
	referenceRegex  = regexp.MustCompile(`#([0-9A-Za-z_/\-]+)`)
)

// Parse reads use cases written in the markdown use-case format:
//
//	Version: 1.0.0
//	### UseCase: order_status <beta, !internal>
//	#### Description
//	Customer asks about an order.
//	#### Solution
//	Ask for the order number, then call @order_lookup().
//	[yes] #order_found
//	----
//
// A "### Case: id" header starts a sub use case whose body is its solution.
func Parse(text string) (Set, error) {
	var (
		useCases Set
		current  *UseCase
		sec      = sectionNone
		version  string
	)

	flush := func() {
		if current != nil {
			current.Description = strings.TrimSpace(current.Description)
			useCases = append(useCases, *current)
		}
	}

	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "<!--") {
			continue
		}

		if current == nil {
			if m := versionRegex.FindStringSubmatch(trimmed); m != nil {
				v, err := semver.NewVersion(m[1])
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid version %q: %w", lineNo, m[1], err)
				}
				version = v.String()
				continue
			}
		}

		if strings.HasPrefix(trimmed, "#") {
			switch {
			case strings.Contains(line, "# UseCase") || strings.Contains(line, "# Case"):
				flush()
				uc, err := parseHeader(line)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				uc.Version = version
				current = &uc
				sec = sectionNone
				if uc.SubUseCase {
					sec = sectionSubStart
				}
			default:
				next, ok := sectionFor(line)
				if !ok {
					return nil, fmt.Errorf("line %d: unknown use case section: %s", lineNo, trimmed)
				}
				sec = next
			}
			continue
		}

		if strings.HasPrefix(trimmed, "----") {
			sec = sectionNone
			continue
		}
		if current == nil {
			continue
		}
		// Blank lines only matter in free text sections.
		if trimmed == "" && sec != sectionDescription && sec != sectionExamples {
			continue
		}

		switch sec {
		case sectionSolution, sectionSubStart:
			current.Solution = append(current.Solution, parseConditional(line))
		case sectionGoal:
			current.Goal = append(current.Goal, parseConditional(line))
		case sectionSteps:
			current.Steps = append(current.Steps, parseConditional(line))
		case sectionAlternative:
			current.Alternative = append(current.Alternative, parseConditional(line))
		case sectionFallback:
			current.Fallback = append(current.Fallback, parseConditional(line))
		case sectionExamples:
			current.Examples += line + "\n"
		case sectionDescription:
			current.Description += line + "\n"
		case sectionNone:
		}
	}
	flush()
	return useCases, nil
}

func sectionFor(line string) (section, bool) {
	switch {
	case strings.Contains(line, "# Goal"):
		return sectionGoal, true
	case strings.Contains(line, "# Description"):
		return sectionDescription, true
	case strings.Contains(line, "# Solution"):
		return sectionSolution, true
	case strings.Contains(line, "# Alternative"):
		return sectionAlternative, true
	case strings.Contains(line, "# Fallback"):
		return sectionFallback, true
	case strings.Contains(line, "# Step"):
		return sectionSteps, true
	case strings.Contains(line, "# Example"):
		return sectionExamples, true
	}
	return sectionNone, false
}

func parseHeader(line string) (UseCase, error) {
	withoutConds, conds := splitConditions(line)
	_, header, ok := strings.Cut(withoutConds, ":")
	if !ok {
		return UseCase{}, fmt.Errorf("missing use case id in %q", strings.TrimSpace(line))
	}
	header = strings.TrimSpace(header)

	uc := UseCase{
		ID:         header,
		Conditions: conds,
		SubUseCase: strings.Contains(line, "# Case"),
	}
	if m := headerRegex.FindStringSubmatch(header); m != nil {
		uc.ID = m[1]
		if m[2] != "" {
			limit, err := strconv.Atoi(m[2])
			if err != nil {
				return UseCase{}, fmt.Errorf("invalid execution limit in %q: %w", header, err)
			}
			uc.ExecutionLimit = limit
		}
	}
	if uc.ID == "" {
		return UseCase{}, fmt.Errorf("missing use case id in %q", strings.TrimSpace(line))
	}
	return uc, nil
}

func splitConditions(s string) (string, []string) {
	var conds []string
	seen := map[string]bool{}
	for _, m := range conditionsRegex.FindAllStringSubmatch(s, -1) {
		for _, c := range strings.Split(m[1], ",") {
			c = strings.TrimSpace(c)
			if c != "" && !seen[c] {
				seen[c] = true
				conds = append(conds, c)
			}
		}
	}
	return strings.TrimSpace(conditionsRegex.ReplaceAllString(s, "")), conds
}

func parseConditional(line string) Conditional {
	text, conds := splitConditions(line)
	text, fns := parseFunctions(text)
	text, refs := ParseReferences(text)

	c := Conditional{Text: text, Functions: fns, References: refs}
	for _, cond := range conds {
		if cond == "/" {
			c.EndsBlock = true
			continue
		}
		c.Conditions = append(c.Conditions, cond)
	}
	return c
}

// parseFunctions turns "@name()" into "name" and lists the names.
func parseFunctions(s string) (string, []string) {
	var fns []string
	var b strings.Builder
	last := 0
	for _, loc := range functionRegex.FindAllStringSubmatchIndex(s, -1) {
		if loc[0] > 0 && !isSpace(s[loc[0]-1]) {
			continue
		}
		b.WriteString(s[last:loc[0]])
		name := s[loc[2]:loc[3]]
		b.WriteString(name)
		fns = appendUnique(fns, name)
		last = loc[1]
	}
	b.WriteString(s[last:])
	return strings.TrimSpace(b.String()), fns
}

// ParseReferences finds "#id" references to other use cases. A reference
// must follow a non-word character (or start the text) and be followed by a
// space, '.', ',' or the end of the text. Path prefixes ("#dir/id") are
// reduced to the id.
func ParseReferences(s string) (string, []string) {
	var refs []string
	var b strings.Builder
	last := 0
	for _, loc := range referenceRegex.FindAllStringSubmatchIndex(s, -1) {
		if loc[0] > 0 && isWordChar(s[loc[0]-1]) {
			continue
		}
		if loc[1] < len(s) && !strings.ContainsRune(" .,", rune(s[loc[1]])) {
			continue
		}
		full := s[loc[2]:loc[3]]
		refs = appendUnique(refs, full)
		b.WriteString(s[last:loc[0]])
		b.WriteString("#" + full[strings.LastIndex(full, "/")+1:])
		last = loc[1]
	}
	b.WriteString(s[last:])
	return strings.TrimSpace(b.String()), refs
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
