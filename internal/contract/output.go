package contract

import (
	"fmt"
	"strings"
)

// Issue describes one contract violation. Issues are values, never panics.
type Issue struct {
	Path     string `json:"path"`
	Reason   string `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (i Issue) String() string {
	var b strings.Builder
	b.WriteString(i.Path)
	b.WriteString(": ")
	b.WriteString(i.Reason)
	if i.Expected != "" {
		fmt.Fprintf(&b, " (expected %s", i.Expected)
		if i.Actual != "" {
			fmt.Fprintf(&b, ", got %s", i.Actual)
		}
		b.WriteString(")")
	}
	return b.String()
}

// IssuesError carries the issues of a rejected plan as an error.
type IssuesError struct {
	Issues []Issue
}

func (e *IssuesError) Error() string {
	if len(e.Issues) == 0 {
		return "contract rejected"
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "contract rejected: " + strings.Join(parts, "; ")
}

// Output is an accepted plan together with the data that came with it.
type Output struct {
	Schema     string
	Suggestion string
	Analysis   map[string]any
	Message    map[string]any
	Actions    []Action
	Conflict   map[string]any
	Raw        string
}

// MemoryPair is a key/value fact the model asked to remember.
type MemoryPair struct {
	Key   string
	Value string
}
