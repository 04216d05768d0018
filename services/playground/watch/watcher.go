// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch delivers debounced change notifications for one source
// file.
//
// Editors rarely write a file once: saves arrive as write bursts, or as
// a temp-file rename that replaces the inode. The watcher therefore
// watches the file's parent directory, filters events down to the target
// name, and coalesces each burst behind a debounce window so the
// playground re-evaluates once per save, not once per write call.
package watch

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/breadboard/pkg/logging"
)

// DefaultDebounce is the coalescing window when none is configured.
const DefaultDebounce = 250 * time.Millisecond

// Op is the kind of change that survived debouncing.
type Op int

const (
	// OpWrite means the file contents changed (also covers the
	// create-and-rename save pattern).
	OpWrite Op = iota

	// OpRemove means the file disappeared and was not replaced within
	// the debounce window.
	OpRemove
)

// String returns "write" or "remove".
func (op Op) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is one debounced notification.
type Change struct {
	// Path is the absolute path of the watched file.
	Path string

	// Op summarizes the burst: a write wins over a remove when both
	// occurred inside one window.
	Op Op

	// Time is when the last event of the burst arrived.
	Time time.Time
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long to wait for more events before notifying.
	// Default: DefaultDebounce.
	Debounce time.Duration

	// Logger receives watcher diagnostics. If nil, the package default
	// logger is used.
	Logger *logging.Logger
}

// Watcher watches one file and emits debounced changes on C.
//
// Thread Safety: the exported API is safe to use from one goroutine;
// the channel may be consumed from another.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *logging.Logger

	fs   *fsnotify.Watcher
	out  chan Change
	done chan struct{}
}

// New starts watching path. The file itself need not exist yet, but its
// directory must.
func New(path string, opts *Options) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %q: %w", path, err)
	}

	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	log := o.Logger
	if log == nil {
		log = logging.Default()
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("watch directory %q: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		debounce: o.Debounce,
		log:      log.With("component", "watch", "path", abs),
		fs:       fs,
		out:      make(chan Change, 1),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// C delivers debounced changes. The channel closes when the watcher is
// closed or the underlying event stream ends.
func (w *Watcher) C() <-chan Change {
	return w.out
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Close releases the inotify handle and closes C. Idempotent in effect:
// the second call returns fsnotify's already-closed error.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

// run turns the raw event stream into debounced changes. The timer is
// armed on the first matching event of a burst and re-armed by every
// subsequent one; when it finally fires, the accumulated burst collapses
// to one Change.
func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.out)

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending Change
	)

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			op, match := w.classify(ev)
			if !match {
				continue
			}
			// Writes dominate removes inside a window: a remove
			// followed by a create is a rename-style save.
			if timerC == nil || op == OpWrite {
				pending.Op = op
			}
			pending.Path = w.path
			pending.Time = time.Now()
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timerC = nil
			timer = nil
			select {
			case w.out <- pending:
			default:
				w.log.Warn("change dropped, consumer not keeping up", "op", pending.Op)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if err != nil && !errors.Is(err, fsnotify.ErrClosed) {
				w.log.Warn("watch error", "error", err)
			}
		}
	}
}

// classify filters an event down to the watched file and maps it to an
// Op. Chmod-only events are noise and never count.
func (w *Watcher) classify(ev fsnotify.Event) (Op, bool) {
	if filepath.Clean(ev.Name) != w.path {
		return 0, false
	}
	switch {
	case ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create):
		return OpWrite, true
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		return OpRemove, true
	default:
		return 0, false
	}
}
