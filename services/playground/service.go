// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package playground wires a Breadboard session: configuration, the
// snippet store, the sandbox, and the interactive host.
package playground

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/services/playground/config"
	"github.com/AleutianAI/breadboard/services/playground/sandbox"
	"github.com/AleutianAI/breadboard/services/playground/store"
	"github.com/AleutianAI/breadboard/services/playground/transform"
	"github.com/AleutianAI/breadboard/services/playground/tui"
	"github.com/AleutianAI/breadboard/services/playground/watch"
)

// RunOptions carries per-session CLI overrides.
type RunOptions struct {
	// File is a snippet file to open. Empty starts a scratch session.
	File string

	// Watch re-evaluates when File changes on disk.
	Watch bool

	// Theme overrides the configured palette for this session.
	Theme string
}

// Service owns the long-lived session resources: the logger and the
// snippet store. One Service can back any number of sequential sessions
// or one-shot evaluations.
type Service struct {
	cfg config.Config
	log *logging.Logger
	st  *store.Store
}

// New opens the store and builds the base logger from cfg. Close must
// be called to release the store lock.
func New(cfg config.Config) (*Service, error) {
	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: "playground",
		JSON:    cfg.Log.Format == "json",
	})

	scfg := store.DefaultConfig()
	scfg.Path = cfg.Store.Path
	scfg.SyncWrites = cfg.Store.SyncWrites
	if cfg.Store.GCInterval > 0 {
		scfg.GCInterval = cfg.Store.GCInterval
	}
	scfg.Logger = log
	st, err := store.Open(scfg)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Service{cfg: cfg, log: log, st: st}, nil
}

// Store exposes the snippet store for the gallery server.
func (s *Service) Store() *store.Store {
	return s.st
}

// Logger exposes the base logger for the gallery server.
func (s *Service) Logger() *logging.Logger {
	return s.log
}

// Close releases the store and flushes the logger.
func (s *Service) Close() error {
	err := s.st.Close()
	s.log.Close()
	return err
}

// Run starts an interactive session and blocks until the user quits or
// ctx is cancelled.
//
// The session gets its own quiet logger: stderr would corrupt the
// alternate screen, so records go to the log file and a mirror that
// surfaces warnings in the console strip.
func (s *Service) Run(ctx context.Context, opts RunOptions) error {
	var (
		sendMu sync.Mutex
		send   func(tea.Msg)
	)
	mirror := logging.NewFuncExporter(func(e logging.Entry) {
		if e.Level < logging.LevelWarn {
			return
		}
		sendMu.Lock()
		fn := send
		sendMu.Unlock()
		if fn != nil {
			fn(tui.ConsoleLineMsg{Line: e.Message})
		}
	})
	log := logging.New(logging.Config{
		Level:    logging.ParseLevel(s.cfg.Log.Level),
		LogDir:   s.cfg.Log.Dir,
		Service:  "playground",
		Quiet:    true,
		Exporter: mirror,
	})
	defer log.Close()

	var name, source string
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return fmt.Errorf("read %s: %w", opts.File, err)
		}
		source = string(data)
		name = strings.TrimSuffix(filepath.Base(opts.File), filepath.Ext(opts.File))
	}

	themeName := s.cfg.TUI.Theme
	if opts.Theme != "" {
		themeName = opts.Theme
	}

	model, err := tui.New(tui.Config{
		Runner: sandbox.New(sandbox.Config{
			MaxSteps: s.cfg.Sandbox.MaxSteps,
			Timeout:  s.cfg.Sandbox.Timeout,
			Logger:   log,
		}),
		Pipeline:      transform.Default(),
		Store:         s.st,
		SourceName:    name,
		InitialSource: source,
		Theme:         themeName,
		ConsoleLines:  s.cfg.TUI.ConsoleLines,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	model.SetScheduler(tui.NewScheduler(program.Send))
	sendMu.Lock()
	send = program.Send
	sendMu.Unlock()

	if opts.Watch && opts.File != "" {
		watcher, err := watch.New(opts.File, &watch.Options{
			Debounce: s.cfg.Watch.Debounce,
			Logger:   log,
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", opts.File, err)
		}
		defer watcher.Close()

		go func() {
			for change := range watcher.C() {
				if change.Op != watch.OpWrite {
					continue
				}
				data, err := os.ReadFile(change.Path)
				if err != nil {
					log.Warn("reload failed", "path", change.Path, "error", err)
					continue
				}
				program.Send(tui.SourceReloadedMsg{Source: string(data)})
			}
		}()
	}

	_, err = program.Run()
	return err
}

// EvalOnce runs src through the transform pipeline and the sandbox and
// returns the program's rendering at the given width. Script prints go
// to the print sink (nil discards them). A positive timeout overrides
// both the configured and pragma budgets.
func (s *Service) EvalOnce(ctx context.Context, name, src string, width int, timeout time.Duration, print func(string)) (string, error) {
	unit, err := transform.Default().Apply(name, src)
	if err != nil {
		return "", err
	}

	runner := sandbox.New(sandbox.Config{
		MaxSteps: s.cfg.Sandbox.MaxSteps,
		Timeout:  s.cfg.Sandbox.Timeout,
		Logger:   s.log,
	}).WithLimits(unit.Meta.MaxSteps, unit.Meta.Timeout)
	if timeout > 0 {
		runner = runner.WithLimits(0, timeout)
	}

	prog, err := runner.Eval(ctx, unit.Name, unit.Source, print)
	if err != nil {
		return "", err
	}
	return prog.Mount()(width)
}
