// Package watcher reports debounced file changes in a directory.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/pubsub"
)

// Watcher publishes a pubsub.ReloadedEvent carrying the changed file names
// once writes to a directory have settled.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	match     func(name string) bool
	debounce  time.Duration
	broker    *pubsub.Broker[[]string]
	done      chan struct{}
	stopped   chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	Dir string
	// Extensions limits events to files with these suffixes, e.g. ".yaml".
	// Empty matches every file.
	Extensions  []string
	DebounceDur time.Duration
}

// DefaultConfig watches dir for template and module definition edits.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		Extensions:  []string{".yaml", ".yml", ".md", ".tmpl"},
		DebounceDur: 200 * time.Millisecond,
	}
}

// New creates a watcher. Call Start to begin receiving events.
func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch directory required")
	}
	if cfg.DebounceDur <= 0 {
		cfg.DebounceDur = DefaultConfig(cfg.Dir).DebounceDur
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	exts := slices.Clone(cfg.Extensions)
	return &Watcher{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		match: func(name string) bool {
			return len(exts) == 0 || slices.Contains(exts, filepath.Ext(name))
		},
		debounce: cfg.DebounceDur,
		broker:   pubsub.NewLatestBroker[[]string](4),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Subscribe returns a channel of reload events, closed with ctx or Stop.
func (w *Watcher) Subscribe(ctx context.Context) <-chan pubsub.Event[[]string] {
	return w.broker.Subscribe(ctx)
}

// Start begins watching the directory.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", w.dir, err)
	}
	log.SafeGo("watcher."+filepath.Base(w.dir), w.loop)
	return nil
}

// Stop terminates the watcher and closes subscriber channels.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fsWatcher.Close()
	<-w.stopped
	w.broker.Close()
	return err
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	var timer *time.Timer
	changed := map[string]struct{}{}
	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			changed[filepath.Base(event.Name)] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC():
			timer = nil
			if len(changed) == 0 {
				continue
			}
			names := make([]string, 0, len(changed))
			for name := range changed {
				names = append(names, name)
			}
			sort.Strings(names)
			clear(changed)
			log.Debug(log.CatWatcher, "files changed", "dir", w.dir, "files", names)
			w.broker.Publish(pubsub.ReloadedEvent, names)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "dir", w.dir)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	return w.match(event.Name)
}
