package invoke

import (
	"os"
	"strconv"
	"strings"
)

func trimSpace(b []byte) string {
	return strings.TrimSpace(string(b))
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// processGone reports whether pid has exited. Zombies count as gone since
// nothing in the test reaps reparented processes.
func processGone(pid string) bool {
	data, err := os.ReadFile("/proc/" + pid + "/stat")
	if err != nil {
		return true
	}
	i := strings.LastIndexByte(string(data), ')')
	if i < 0 || i+2 >= len(data) {
		return true
	}
	return data[i+2] == 'Z' || data[i+2] == 'X'
}
