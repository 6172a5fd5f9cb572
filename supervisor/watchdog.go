// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// change is a file appearing in or disappearing from a watched folder.
type change struct {
	path    string
	removed bool
}

// watchdog reports file creation, modification and removal in one folder.
type watchdog struct {
	notify  chan<- change
	log     *zap.Logger
	watcher *fsnotify.Watcher
}

// newWatchdog watches dir until ctx is done, then closes notify.
func newWatchdog(ctx context.Context, dir string, notify chan<- change, log *zap.Logger) (*watchdog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %v: %w", dir, err)
	}
	w := &watchdog{notify: notify, log: log.Named("watchdog"), watcher: watcher}
	go w.watch(ctx)
	return w, nil
}

func (w *watchdog) watch(ctx context.Context) {
	defer w.watcher.Close()
	defer close(w.notify)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("fsnotify error", zap.Error(err))
		}
	}
}

func (w *watchdog) handleEvent(ctx context.Context, event fsnotify.Event) {
	w.log.Debug("fsnotify event", zap.String("event", event.String()))
	var c change
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		c = change{path: event.Name}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		c = change{path: event.Name, removed: true}
	default:
		return
	}
	select {
	case w.notify <- c:
	case <-ctx.Done():
	}
}
