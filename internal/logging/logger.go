// Package logging provides the realtime command log and an optional
// file-backed debug log.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grailbio/base/log"
)

// DefaultMaxLen is the longest realtime message emitted untruncated. Longer
// messages are less likely to survive the trip to the workflow leader.
const DefaultMaxLen = 1500

// Logger writes realtime messages through the process logger and mirrors them,
// along with debug lines, into an optional log file.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	maxLen int
}

// New creates a logger writing debug lines to the specified path.
// If the path is empty, only the process logger is used.
// Creates parent directories if they don't exist.
func New(logPath string) (*Logger, error) {
	l := &Logger{maxLen: DefaultMaxLen}
	if logPath == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.file = f

	l.Log("=== cactuscall log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// Nop returns a logger with no file sink.
func Nop() *Logger {
	return &Logger{maxLen: DefaultMaxLen}
}

// Log writes a timestamped line to the log file only.
// If the logger is nil or has no file, this is a no-op.
func (l *Logger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.write(fmt.Sprintf(format, args...))
}

func (l *Logger) write(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, msg)
	l.file.Sync()
}

// Realtime emits msg at info level, truncated to the logger's maximum length.
// Safe to call on a nil logger.
func (l *Logger) Realtime(msg string) {
	msg = Truncate(msg, l.limit())
	log.Printf("%s", msg)
	if l != nil && l.file != nil {
		l.write(msg)
	}
}

// RealtimeDebug is Realtime at debug level.
func (l *Logger) RealtimeDebug(msg string) {
	msg = Truncate(msg, l.limit())
	log.Debug.Printf("%s", msg)
	if l != nil && l.file != nil {
		l.write(msg)
	}
}

func (l *Logger) limit() int {
	if l == nil || l.maxLen == 0 {
		return DefaultMaxLen
	}
	return l.maxLen
}

// Close closes the log file.
// Safe to call on nil logger or logger without file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Truncate shortens msg to at most max bytes by keeping its head and its last
// 200 bytes around a " <...> " marker.
func Truncate(msg string, max int) string {
	const tail = 200
	const marker = " <...> "
	if len(msg) <= max || max < tail+len(marker) {
		return msg
	}
	return msg[:max-tail-len(marker)] + marker + msg[len(msg)-tail:]
}
