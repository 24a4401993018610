package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// coalesceWindow groups the several events an editor save produces into
// one reload.
const coalesceWindow = 200 * time.Millisecond

// Watcher reports changes to config.yaml and .env in the home directory.
// The directory is watched rather than the files so editors that replace
// files on save still produce events.
type Watcher struct {
	homeDir string
	logger  *slog.Logger
	events  chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		logger:  logger,
		events:  make(chan ReloadEvent, 16),
	}
}

// Events is closed when the watcher stops.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func watched(name string) bool {
	switch filepath.Base(name) {
	case "config.yaml", ".env":
		return true
	}
	return false
}

// Start watches until ctx is done. Events within coalesceWindow of the
// first one in a burst are reported once, as the latest event.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := fsw.Add(w.homeDir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.homeDir, err)
	}
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	defer close(w.events)

	var (
		pending *ReloadEvent
		flush   <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !watched(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				flush = time.After(coalesceWindow)
			}
			pending = &ReloadEvent{Path: ev.Name, Op: ev.Op}
		case <-flush:
			w.logger.Info("config file changed", "path", pending.Path, "op", pending.Op.String())
			select {
			case w.events <- *pending:
			default:
				w.logger.Warn("config reload dropped, consumer busy", "path", pending.Path)
			}
			pending, flush = nil, nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
