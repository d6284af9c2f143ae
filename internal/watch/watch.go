// Package watch tails a live run's output directory and reports progress as
// the checkpoint advances.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lemon07r/patchbench/internal/checkpoint"
)

// Watcher observes a run output directory for checkpoint updates.
type Watcher struct {
	dir      string
	debounce time.Duration
	onUpdate func(cp checkpoint.Checkpoint)
	logger   *slog.Logger
}

// New creates a watcher. onUpdate fires with the freshly-loaded checkpoint
// after each (debounced) change to checkpoint.json.
func New(dir string, debounce time.Duration, onUpdate func(cp checkpoint.Checkpoint), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, debounce: debounce, onUpdate: onUpdate, logger: logger}
}

// Watch blocks until the context is cancelled, reporting checkpoint updates.
// The store rewrites checkpoint.json via rename, so Create events matter as
// much as Writes.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	// Report current state immediately so the user isn't staring at nothing
	// until the next completion lands.
	w.reload()

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.isCheckpointEvent(event) {
				continue
			}
			w.logger.Debug("checkpoint change detected", "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) isCheckpointEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Base(event.Name) == "checkpoint.json"
}

func (w *Watcher) reload() {
	store, err := checkpoint.Load(filepath.Join(w.dir, "checkpoint.json"))
	if err != nil {
		w.logger.Debug("checkpoint not readable yet", "error", err)
		return
	}
	w.onUpdate(store.Snapshot())
}

// FormatProgress renders one progress line for a checkpoint snapshot.
func FormatProgress(cp checkpoint.Checkpoint) string {
	done := len(cp.CompletedInstances) + len(cp.FailedInstances)
	var sb strings.Builder
	fmt.Fprintf(&sb, " %d/%d done", done, cp.TotalInstances)
	fmt.Fprintf(&sb, " (%d completed, %d failed", len(cp.CompletedInstances), len(cp.FailedInstances))
	if cp.TotalInstances > 0 {
		fmt.Fprintf(&sb, ", %.1f%%", float64(done)/float64(cp.TotalInstances)*100)
	}
	sb.WriteString(")")
	return sb.String()
}
