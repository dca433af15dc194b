// Package signals lets another process stop a running fanout by dropping a
// kill file into the state directory.
package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrKilled is the cancellation cause of contexts stopped by a kill file.
var ErrKilled = errors.New("run stopped by kill signal")

// Watcher observes <state dir>/signals for a kill file.
type Watcher struct {
	dir string

	mu     sync.Mutex
	killed bool
	killCh chan struct{}

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// Dir returns the signals directory of a state directory.
func Dir(stateDir string) string {
	return filepath.Join(stateDir, "signals")
}

// NewWatcher creates the signals directory and starts watching it. When
// fsnotify is unavailable the watcher falls back to checking the file on
// every ShouldStop call.
func NewWatcher(stateDir string) (*Watcher, error) {
	dir := Dir(stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:    dir,
		killCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return w, nil
	}
	w.watcher = watcher

	go w.watch()

	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == "kill" && (event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0) {
				w.markKilled()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) markKilled() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.killed {
		w.killed = true
		close(w.killCh)
	}
}

// Killed returns a channel closed once a kill signal is seen.
func (w *Watcher) Killed() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killCh
}

// ShouldStop reports whether a kill signal has been received.
func (w *Watcher) ShouldStop() bool {
	// Also check the file directly in case the watcher missed it.
	if _, err := os.Stat(filepath.Join(w.dir, "kill")); err == nil {
		w.markKilled()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

// SendKill creates the kill file.
func (w *Watcher) SendKill() error {
	return SendKill(filepath.Dir(w.dir))
}

// SendKill creates the kill file of a state directory.
func SendKill(stateDir string) error {
	dir := Dir(stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "kill"), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes the kill file and resets the signal state.
func (w *Watcher) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	os.Remove(filepath.Join(w.dir, "kill"))
	if w.killed {
		w.killed = false
		w.killCh = make(chan struct{})
	}
}

// WithCancel returns a context canceled with cause ErrKilled once a kill
// signal arrives. The file is also polled every poll interval.
func (w *Watcher) WithCancel(parent context.Context, poll time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	killed := w.Killed()
	go func() {
		t := time.NewTicker(poll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-killed:
				cancel(ErrKilled)
				return
			case <-t.C:
				if w.ShouldStop() {
					cancel(ErrKilled)
					return
				}
			}
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}
