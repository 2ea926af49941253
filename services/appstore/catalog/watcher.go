// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates the resolver cache when the catalog changes on
// disk (typically after a scheduled repo sync rewrites app manifests).
//
// # Debouncing
//
// A repo sync touches many files in a burst. Events are collected and
// the cache is invalidated once per quiet period instead of once per
// file.
//
// # Thread Safety
//
// Safe for concurrent use. Start may be called once; Stop is idempotent.
type Watcher struct {
	resolver *FileResolver
	root     string
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the catalog apps root.
func NewWatcher(resolver *FileResolver, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		resolver: resolver,
		root:     resolver.paths.CatalogApp(""),
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins watching. It returns immediately; events are handled on
// a background goroutine until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	// Watch the apps root and each app directory. New app directories
	// created by a sync are picked up from create events on the root.
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = fsw.Add(filepath.Join(w.root, entry.Name()))
			}
		}
	}

	go w.run(ctx)
	return nil
}

// Stop ends watching and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	dirty := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
			}
			if appID := w.appIDFor(event.Name); appID != "" {
				dirty[appID] = true
			} else {
				dirty[""] = true
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			for appID := range dirty {
				w.resolver.Invalidate(appID)
			}
			w.logger.Debug("catalog cache invalidated", "entries", len(dirty))
			dirty = make(map[string]bool)
			timerC = nil

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", "error", err)
		}
	}
}

// appIDFor maps a changed path to the catalog app it belongs to.
// Returns "" when the path is the root itself.
func (w *Watcher) appIDFor(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.SplitN(rel, string(filepath.Separator), 2)
	return parts[0]
}
