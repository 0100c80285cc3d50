package usecase

import (
	"regexp"
	"strings"
)

// Conditional is one line of a use case section, optionally gated by conditions.
type Conditional struct {
	Text       string
	Conditions []string
	Functions  []string
	References []string
	// EndsBlock marks a "</>" terminator closing the preceding gated block.
	EndsBlock bool
}

// UseCase is a scripted procedure shown to the model. Values are read-only
// once parsed.
type UseCase struct {
	ID             string
	Version        string
	ExecutionLimit int
	Description    string
	Steps          []Conditional
	Solution       []Conditional
	Alternative    []Conditional
	Fallback       []Conditional
	Goal           []Conditional
	Examples       string
	Conditions     []string
	SubUseCase     bool
}

// Matches reports whether the use case is enabled under active.
func (u UseCase) Matches(active Conditions, input string) bool {
	return active.Satisfies(u.Conditions, input)
}

// References lists the use cases referenced from steps and solutions.
func (u UseCase) References() []string {
	seen := map[string]bool{}
	var refs []string
	for _, section := range [][]Conditional{u.Steps, u.Solution, u.Alternative, u.Fallback} {
		for _, c := range section {
			for _, r := range c.References {
				if !seen[r] {
					seen[r] = true
					refs = append(refs, r)
				}
			}
		}
	}
	return refs
}

// Functions lists the tools named with @tool() in steps and solutions.
func (u UseCase) Functions() []string {
	seen := map[string]bool{}
	var fns []string
	for _, section := range [][]Conditional{u.Steps, u.Solution, u.Alternative, u.Fallback} {
		for _, c := range section {
			for _, f := range c.Functions {
				if !seen[f] {
					seen[f] = true
					fns = append(fns, f)
				}
			}
		}
	}
	return fns
}

// Conditions is the set of active feature flags for a turn.
type Conditions map[string]bool

// NewConditions builds a set from names.
func NewConditions(names ...string) Conditions {
	c := make(Conditions, len(names))
	for _, n := range names {
		c[n] = true
	}
	return c
}

// With returns a copy extended by names.
func (c Conditions) With(names ...string) Conditions {
	out := make(Conditions, len(c)+len(names))
	for k, v := range c {
		out[k] = v
	}
	for _, n := range names {
		out[n] = true
	}
	return out
}

// Satisfies reports whether required holds: every positive condition is
// active and no "!negated" one is. "regex:<pattern>" conditions are active
// when the pattern matches input (case-insensitive).
func (c Conditions) Satisfies(required []string, input string) bool {
	for _, cond := range required {
		if neg, ok := strings.CutPrefix(cond, "!"); ok {
			if c.active(neg, input) {
				return false
			}
			continue
		}
		if !c.active(cond, input) {
			return false
		}
	}
	return true
}

func (c Conditions) active(cond, input string) bool {
	if c[cond] {
		return true
	}
	if pattern, ok := strings.CutPrefix(cond, "regex:"); ok && input != "" {
		re, err := regexp.Compile("(?i)" + pattern)
		return err == nil && re.MatchString(input)
	}
	return false
}

// Set is an ordered collection of use cases with lookup by id.
type Set []UseCase

// Find returns the use case with id.
func (s Set) Find(id string) (UseCase, bool) {
	for _, u := range s {
		if u.ID == id {
			return u, true
		}
	}
	return UseCase{}, false
}

// Matching returns the use cases enabled under active.
func (s Set) Matching(active Conditions, input string) Set {
	var out Set
	for _, u := range s {
		if u.Matches(active, input) {
			out = append(out, u)
		}
	}
	return out
}
