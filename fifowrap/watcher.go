package fifowrap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher watches the FIFO's directory and reports when the FIFO is created
// again, which usually means it was removed and recreated by a deployment
// script.
type Watcher struct {
	w        *fsnotify.Watcher
	j        Journaler
	path     string
	recreate func()
}

// TryWatch attempts to watch the given FIFO asynchronously, but it will log
// into the journaler if, for some reason, it fails to watch it.
func TryWatch(ctx context.Context, path string, j Journaler, recreate func()) *Watcher {
	w := newWatcher(path, j, recreate)

	go func() {
		if err := w.init(); err != nil {
			j.Write(&EventWarning{
				Component: "watcher",
				Error:     fmt.Sprintf("not watching fifo because: %v", err),
			})
			return
		}

		w.watch(ctx)
	}()

	return w
}

// NewWatcher watches the given FIFO and calls recreate every time it is
// created anew. The watcher is stopped once the given context is canceled.
func NewWatcher(ctx context.Context, path string, j Journaler, recreate func()) (*Watcher, error) {
	w := newWatcher(path, j, recreate)
	if err := w.init(); err != nil {
		return nil, err
	}

	go w.watch(ctx)
	return w, nil
}

func newWatcher(path string, j Journaler, recreate func()) *Watcher {
	return &Watcher{
		j:        j,
		path:     filepath.Clean(path),
		recreate: recreate,
	}
}

func (w *Watcher) init() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}

	// Watch the directory rather than the file, since the file's inode goes
	// away when it's removed.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "failed to watch dir")
	}

	w.w = watcher
	return nil
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.w.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}

			w.j.Write(&EventWarning{
				Component: "watcher",
				Error:     "inotify error: " + err.Error(),
			})

		case evt, ok := <-w.w.Events:
			if !ok {
				return
			}

			if !isRecreate(evt, w.path) {
				continue
			}

			w.j.Write(&EventFIFORecreated{Path: w.path})

			if err := ValidateFIFO(w.path); err != nil {
				w.j.Write(&EventWarning{
					Component: "watcher",
					Error:     fmt.Sprintf("not reloading: %v", err),
				})
				continue
			}

			w.recreate()
		}
	}
}

// isRecreate returns true if the event is the FIFO at path being created. A
// rename onto the path shows up as a create as well.
func isRecreate(evt fsnotify.Event, path string) bool {
	if filepath.Clean(evt.Name) != path {
		return false
	}
	return evt.Op&fsnotify.Create != 0
}
