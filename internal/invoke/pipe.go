package invoke

import (
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/ShayCichocki/cactuscall/pkg/models"
)

const pipefailPrefix = "set -eo pipefail && "

// PipeScript renders stages as a single bash script in which a failure of
// any stage fails the whole chain.
func PipeScript(stages [][]string) string {
	parts := make([]string, len(stages))
	for i, stage := range stages {
		words := make([]string, len(stage))
		for j, tok := range stage {
			words[j] = quote(tok)
		}
		parts[i] = strings.Join(words, " ")
	}
	return pipefailPrefix + strings.Join(parts, " | ")
}

// quote shell-quotes tok. shellquote leaves a leading '#' bare, which bash
// would read as a comment.
func quote(tok string) string {
	if strings.HasPrefix(tok, "#") && !strings.Contains(tok, "'") {
		return "'" + tok + "'"
	}
	return shellquote.Join(tok)
}

// shellScript returns the script a command must be run through, if any.
// Piped commands always need a shell; single commands only when the caller
// asked for shell interpretation of their tokens.
func shellScript(cmd models.Command, shell bool) (string, bool) {
	if cmd.IsPiped() {
		return PipeScript(cmd.Stages()), true
	}
	if shell {
		return strings.Join(cmd.Tokens(), " "), true
	}
	return "", false
}
