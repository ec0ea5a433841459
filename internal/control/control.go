// Package control watches the workspace control directory for signal
// files. Dropping a file named cancel-<taskID> into .cadenza/control/
// cancels that task, which lets external tooling stop work without
// talking to the process directly.
package control

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// cancelPrefix is the filename prefix for cancellation signals.
const cancelPrefix = "cancel-"

// Canceller cancels a task by ID. The scheduler implements it.
type Canceller interface {
	Cancel(taskID string) error
}

// Watcher reacts to signal files in the control directory.
type Watcher struct {
	dir       string
	canceller Canceller
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// Dir returns the control directory for a workspace.
func Dir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".cadenza", "control")
}

// Start creates the control directory, processes signals already
// present, and begins watching for new ones.
func Start(workspaceRoot string, canceller Canceller) (*Watcher, error) {
	dir := Dir(workspaceRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create control directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch control directory: %w", err)
	}

	w := &Watcher{
		dir:       dir,
		canceller: canceller,
		watcher:   fsw,
		done:      make(chan struct{}),
	}

	// Pick up signals dropped before the watch started.
	w.sweep()

	go w.run()
	return w, nil
}

// Close stops watching. Signal files already observed are not re-processed.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handle(filepath.Base(event.Name))
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// sweep processes signal files already sitting in the directory.
func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.handle(entry.Name())
		}
	}
}

// handle interprets one signal file and removes it once acted on.
func (w *Watcher) handle(name string) {
	if !strings.HasPrefix(name, cancelPrefix) {
		return
	}
	taskID := strings.TrimPrefix(name, cancelPrefix)
	if taskID == "" {
		return
	}

	if err := w.canceller.Cancel(taskID); err != nil {
		log.Printf("[control] cancel signal for unknown task %s: %v", taskID, err)
	} else {
		log.Printf("[control] cancelled task %s via control file", taskID)
	}
	os.Remove(filepath.Join(w.dir, name))
}
