package invoke

import (
	"os"
	"path/filepath"
	"strings"
)

// InferWorkDir returns the directory shared by the file and directory
// arguments among tokens. Arguments in more than one directory yield their
// common path prefix; no such arguments (or no common prefix) yield ".".
func InferWorkDir(tokens []string) string {
	seen := make(map[string]bool)
	var dirs []string
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, err := os.Stat(tok); err != nil {
			continue
		}
		d := filepath.Dir(tok)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}

	switch len(dirs) {
	case 0:
		return "."
	case 1:
		return dirs[0]
	}
	if wd := commonDir(dirs); wd != "" {
		return wd
	}
	return "."
}

// commonDir returns the longest shared leading run of path components.
func commonDir(dirs []string) string {
	prefix := strings.Split(filepath.Clean(dirs[0]), string(filepath.Separator))
	for _, d := range dirs[1:] {
		parts := strings.Split(filepath.Clean(d), string(filepath.Separator))
		n := 0
		for n < len(prefix) && n < len(parts) && prefix[n] == parts[n] {
			n++
		}
		prefix = prefix[:n]
	}
	if len(prefix) == 1 && prefix[0] == "" {
		return string(filepath.Separator)
	}
	return strings.Join(prefix, string(filepath.Separator))
}

// Relativize strips every occurrence of "<workDir>/" from the tokens so the
// paths resolve against the container's mount point. Occurrences inside
// longer arguments, such as a pipe script, are rewritten too.
func Relativize(tokens []string, workDir string) []string {
	out := make([]string, len(tokens))
	if workDir == "" || workDir == "." {
		copy(out, tokens)
		return out
	}
	if workDir == string(filepath.Separator) {
		for i, tok := range tokens {
			out[i] = strings.TrimPrefix(tok, workDir)
		}
		return out
	}
	prefix := workDir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	for i, tok := range tokens {
		out[i] = strings.ReplaceAll(tok, prefix, "")
	}
	return out
}
