// Package watch auto-enqueues files that appear under a watched source
// root, mirroring them under a destination root. Files are enqueued only
// after a settling delay with no further writes, so half-written files are
// never picked up.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/filecourier/courier/transfer"
)

// DefaultSettlingDelay is used when no delay is configured.
const DefaultSettlingDelay = 2 * time.Second

// Watcher watches a source tree and enqueues settled files onto a transfer
// queue.
type Watcher struct {
	sourceRoot    string
	destRoot      string
	queue         *transfer.Queue
	watcher       *fsnotify.Watcher
	settlingDelay time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher mirroring sourceRoot into destRoot through queue.
func New(sourceRoot, destRoot string, queue *transfer.Queue, settlingDelay time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if settlingDelay <= 0 {
		settlingDelay = DefaultSettlingDelay
	}

	return &Watcher{
		sourceRoot:    sourceRoot,
		destRoot:      destRoot,
		queue:         queue,
		watcher:       fsWatcher,
		settlingDelay: settlingDelay,
		pending:       make(map[string]*time.Timer),
	}, nil
}

// Run watches until the context is cancelled. New subdirectories are added
// to the watch as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addWatchRecursive(w.sourceRoot); err != nil {
		return fmt.Errorf("failed to watch source tree: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Run",
		"source":      w.sourceRoot,
		"destination": w.destRoot,
	}).Info("Watch folder started")

	for {
		select {
		case <-ctx.Done():
			w.cancelAllPending()
			logrus.WithField("function", "Run").Info("Watch folder stopped")
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			w.handleEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"error":    err.Error(),
			}).Warn("Filesystem watcher error")
		}
	}
}

func (w *Watcher) addWatchRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "addWatchRecursive",
				"path":     path,
				"error":    err.Error(),
			}).Warn("Failed to walk path while adding watches")
			return nil
		}

		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "addWatchRecursive",
					"path":     path,
					"error":    err.Error(),
				}).Warn("Failed to watch directory")
			}
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addWatchRecursive(ev.Name); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "handleEvent",
					"path":     ev.Name,
					"error":    err.Error(),
				}).Warn("Failed to watch new directory")
			}
			return
		}
		w.schedule(ev.Name)

	case ev.Op.Has(fsnotify.Write):
		w.schedule(ev.Name)

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.cancelPending(ev.Name)
	}
}

// schedule arms (or re-arms) the settling timer for a file; the file is
// enqueued only once the timer fires with no further writes.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}

	w.pending[path] = time.AfterFunc(w.settlingDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.enqueue(path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
		delete(w.pending, path)
		logrus.WithFields(logrus.Fields{
			"function": "cancelPending",
			"path":     path,
		}).Debug("Cancelled pending transfer for removed file")
	}
}

func (w *Watcher) cancelAllPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

// enqueue mirrors a settled file under the destination root and kicks the
// queue's worker pool, which is idempotent when already running.
func (w *Watcher) enqueue(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	rel, err := filepath.Rel(w.sourceRoot, path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "enqueue",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Failed to resolve relative path for watched file")
		return
	}

	id := w.queue.Enqueue(path, filepath.Join(w.destRoot, rel), false)
	w.queue.Start()

	logrus.WithFields(logrus.Fields{
		"function": "enqueue",
		"item_id":  id,
		"source":   path,
	}).Info("Watched file enqueued for transfer")
}
