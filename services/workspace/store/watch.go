// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeOp is the kind of filesystem change.
type ChangeOp int

const (
	// ChangeWrite means the file was created or its content changed.
	ChangeWrite ChangeOp = iota

	// ChangeRemove means the file was removed or renamed away.
	ChangeRemove
)

// String returns the operation name.
func (op ChangeOp) String() string {
	if op == ChangeRemove {
		return "remove"
	}
	return "write"
}

// Change is one debounced file change.
type Change struct {
	// Path is workspace-relative and slash-separated.
	Path string

	Op ChangeOp

	// Text is the file content read after the debounce window. Nil for
	// ChangeRemove.
	Text []byte
}

// ApplyFunc receives each debounced batch. It runs on the watcher's
// goroutine; implementations serialize with other store users.
type ApplyFunc func(ctx context.Context, changes []Change)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long the watcher waits for more events before
	// delivering a batch. Default: 100ms.
	Debounce time.Duration

	// IgnoreDirs are directory names not watched. Default: DefaultIgnoreDirs.
	IgnoreDirs []string

	// BufferSize is the event buffer length. Default: 1000.
	BufferSize int
}

// DefaultWatcherOptions returns the default watcher options.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Debounce:   100 * time.Millisecond,
		IgnoreDirs: DefaultIgnoreDirs,
		BufferSize: 1000,
	}
}

// Watcher follows files with one extension under a root and hands their
// new contents to an ApplyFunc in debounced batches.
//
// Thread Safety:
//
//	Start and Stop are safe for concurrent use. ApplyFunc is called from a
//	single goroutine.
type Watcher struct {
	root    string
	ext     string
	apply   ApplyFunc
	opts    WatcherOptions
	ignore  map[string]bool
	fsw     *fsnotify.Watcher
	events  chan string
	done    chan struct{}
	stopped sync.Once

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher for files with extension ext under root.
// Call Start to begin watching.
func NewWatcher(root, ext string, apply ApplyFunc, opts *WatcherOptions) (*Watcher, error) {
	o := DefaultWatcherOptions()
	if opts != nil {
		if opts.Debounce > 0 {
			o.Debounce = opts.Debounce
		}
		if opts.IgnoreDirs != nil {
			o.IgnoreDirs = opts.IgnoreDirs
		}
		if opts.BufferSize > 0 {
			o.BufferSize = opts.BufferSize
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ignore := make(map[string]bool, len(o.IgnoreDirs))
	for _, name := range o.IgnoreDirs {
		ignore[name] = true
	}

	return &Watcher{
		root:   filepath.Clean(root),
		ext:    ext,
		apply:  apply,
		opts:   o,
		ignore: ignore,
		fsw:    fsw,
		events: make(chan string, o.BufferSize),
		done:   make(chan struct{}),
	}, nil
}

// Start watches the root and every non-ignored subdirectory. Watching ends
// on Stop or when ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop ends watching. It is idempotent.
func (w *Watcher) Stop() {
	w.stopped.Do(func() {
		close(w.done)
		_ = w.fsw.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignore[d.Name()] {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// ignored reports whether any path element below root is an ignored dir.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.ignore[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						slog.Debug("Watch new directory failed", slog.String("path", event.Name), slog.String("error", err.Error()))
					}
					continue
				}
			}

			if !strings.EqualFold(filepath.Ext(event.Name), w.ext) {
				continue
			}

			select {
			case w.events <- event.Name:
			default:
				slog.Warn("Watcher buffer full, dropping event", slog.String("path", event.Name))
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]struct{})
	var order []string
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(order) == 0 {
			return
		}
		changes := w.readChanges(order)
		pending = make(map[string]struct{})
		order = nil
		if len(changes) > 0 && w.apply != nil {
			w.apply(ctx, changes)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.events:
			if _, seen := pending[path]; !seen {
				pending[path] = struct{}{}
				order = append(order, path)
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// readChanges turns paths into changes by reading their current state.
// The state at flush time wins over the individual event kinds.
func (w *Watcher) readChanges(paths []string) []Change {
	changes := make([]Change, 0, len(paths))
	for _, path := range paths {
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		text, err := os.ReadFile(path)
		switch {
		case err == nil:
			changes = append(changes, Change{Path: rel, Op: ChangeWrite, Text: text})
		case errors.Is(err, fs.ErrNotExist):
			changes = append(changes, Change{Path: rel, Op: ChangeRemove})
		default:
			slog.Warn("Reading changed file failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return changes
}

// Apply folds watcher changes into the store: writes go through Put,
// removals through Remove. Every change is attempted; the returned error
// joins the failures.
func (s *Store) Apply(ctx context.Context, changes []Change) error {
	var errs []error
	for _, c := range changes {
		switch c.Op {
		case ChangeRemove:
			s.Remove(c.Path)
		default:
			if err := s.Put(ctx, c.Path, c.Text); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
