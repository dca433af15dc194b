package models

import (
	"strings"
)

// Command is a logical external invocation. It is either a single argument
// list or a pipe chain of argument lists, where stage i's stdout feeds stage
// i+1's stdin. The form is fixed at construction.
type Command struct {
	stages [][]string
	piped  bool
}

// Single creates a command that runs one process with the given tokens.
func Single(tokens ...string) Command {
	return Command{stages: [][]string{copyTokens(tokens)}}
}

// Piped creates a pipe chain. A chain with a single stage still runs through
// a shell so that pipefail semantics are uniform.
func Piped(stages ...[]string) Command {
	c := Command{piped: true, stages: make([][]string, 0, len(stages))}
	for _, s := range stages {
		c.stages = append(c.stages, copyTokens(s))
	}
	return c
}

func copyTokens(tokens []string) []string {
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}

// IsPiped returns true if the command is a pipe chain.
func (c Command) IsPiped() bool {
	return c.piped
}

// IsZero returns true if the command has no tokens at all.
func (c Command) IsZero() bool {
	for _, s := range c.stages {
		if len(s) > 0 {
			return false
		}
	}
	return true
}

// Stages returns a copy of every stage of the command. A single command has
// exactly one stage.
func (c Command) Stages() [][]string {
	out := make([][]string, len(c.stages))
	for i, s := range c.stages {
		out[i] = copyTokens(s)
	}
	return out
}

// Tokens returns the tokens of a single command, or all tokens of a pipe
// chain flattened in stage order.
func (c Command) Tokens() []string {
	var out []string
	for _, s := range c.stages {
		out = append(out, s...)
	}
	return out
}

// Tool returns the first token of the first stage, or "" for an empty command.
func (c Command) Tool() string {
	if len(c.stages) == 0 || len(c.stages[0]) == 0 {
		return ""
	}
	return c.stages[0][0]
}

// Contains reports whether any token equals name.
func (c Command) Contains(name string) bool {
	for _, s := range c.stages {
		for _, t := range s {
			if t == name {
				return true
			}
		}
	}
	return false
}

// String renders the command for logs. It does not quote tokens.
func (c Command) String() string {
	parts := make([]string, len(c.stages))
	for i, s := range c.stages {
		parts[i] = strings.Join(s, " ")
	}
	return strings.Join(parts, " | ")
}
