package invoke

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

var timeWrapper = []string{"/usr/bin/time", "-v"}

const maxRSSLabel = "Maximum resident set size (kbytes):"

// serverTools run for the lifetime of a workflow and are never wrapped.
var serverTools = []string{"ktserver", "redis-server"}

func wrapTimeV(argv []string) []string {
	out := make([]string, 0, len(timeWrapper)+len(argv))
	out = append(out, timeWrapper...)
	return append(out, argv...)
}

// stripTimeV removes the timing wrapper from argv for display.
func stripTimeV(argv []string) []string {
	if len(argv) < len(timeWrapper) {
		return argv
	}
	for i, tok := range timeWrapper {
		if argv[i] != tok {
			return argv
		}
	}
	return argv[len(timeWrapper):]
}

// parseMaxRSS extracts the peak resident set size in bytes from the output
// of time -v.
func parseMaxRSS(stderr []byte) (int64, bool) {
	sc := bufio.NewScanner(bytes.NewReader(stderr))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, maxRSSLabel) {
			continue
		}
		fields := strings.Fields(line)
		kb, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
