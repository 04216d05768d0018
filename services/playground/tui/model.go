// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui implements the interactive Breadboard host on Bubble Tea.
//
// The model owns the widgets (editor textarea, output viewport) and the
// playground loop (edit, transform, evaluate, render). Everything
// geometric or thematic flows through the controller runtime instead:
// the model feeds viewport sizes and key-driven actions into bound
// controllers, and reads the flushed outputs back from the Board
// component when drawing. The model never computes pane sizes itself.
//
// # Thread Safety
//
// The model and its controllers are confined to the Bubble Tea event
// loop goroutine. External goroutines talk to it only via program.Send.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/breadboard/pkg/control"
	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/pkg/ui"
	"github.com/AleutianAI/breadboard/services/playground/console"
	"github.com/AleutianAI/breadboard/services/playground/layout"
	"github.com/AleutianAI/breadboard/services/playground/sandbox"
	"github.com/AleutianAI/breadboard/services/playground/store"
	"github.com/AleutianAI/breadboard/services/playground/theme"
	"github.com/AleutianAI/breadboard/services/playground/transform"
)

// statusBarRows is the height reserved below the panes for the status
// line and the short help line.
const statusBarRows = 2

// Focusable panes.
const (
	focusEditor = iota
	focusOutput
)

// SourceReloadedMsg replaces the editor contents and re-runs. The
// watcher loop sends it when the file changes on disk.
type SourceReloadedMsg struct {
	Source string
}

// ConsoleLineMsg appends one line to the console strip. The host's log
// mirror sends these, so warnings surface in the session instead of
// corrupting the alternate screen.
type ConsoleLineMsg struct {
	Line string
}

// Config wires the model's collaborators.
type Config struct {
	// Runner evaluates snippets. Required.
	Runner *sandbox.Runner

	// Pipeline transforms source before evaluation. Required.
	Pipeline *transform.Pipeline

	// Store saves snippets. Nil disables saving.
	Store *store.Store

	// SourceName labels the program in errors and the status bar.
	SourceName string

	// InitialSource seeds the editor.
	InitialSource string

	// Theme pins the starting palette ("" lets the theme controller
	// detect it).
	Theme string

	// ConsoleLines caps the console controller's ring.
	ConsoleLines int

	// Logger receives host diagnostics, mirrored into the console pane.
	Logger *logging.Logger
}

// Model is the Bubble Tea model for the playground.
type Model struct {
	cfg Config
	log *logging.Logger

	keys   KeyMap
	editor textarea.Model
	output viewport.Model
	help   help.Model

	board   *Board
	binding *control.Binding
	inject  *control.Injector
	sched   ui.Scheduler

	width   int
	height  int
	focus   int
	mounted bool

	program  *sandbox.Program
	rendered string
	status   string
	helpOpen bool
	save     *saveForm
	quitting bool
}

// New builds the model and its controller plumbing. The binding wraps
// the Board over the three controller keys; the injector auto-creates
// each controller on first mount since the host never supplies them
// externally.
func New(cfg Config) (*Model, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	m := &Model{
		cfg:    cfg,
		log:    log.With("component", "tui"),
		keys:   DefaultKeyMap(),
		editor: textarea.New(),
		help:   help.New(),
		board:  &Board{},
		status: "ctrl+r to run",
	}
	m.board.Editor = func(int, int) string { return m.editor.View() }
	m.board.Output = func(int, int) string { return m.output.View() }

	binding, err := control.ControlledBy(m.board, "layout", "theme", "console")
	if err != nil {
		return nil, fmt.Errorf("bind board: %w", err)
	}
	m.binding = binding
	m.inject = control.NewInjector(map[string]any{
		"layout":  layout.Responsive{},
		"theme":   theme.Picker{},
		"console": console.Capture{},
	}, control.WithLogger(log))

	m.editor.Placeholder = "def render(width):\n    return \"hello\""
	m.editor.SetValue(cfg.InitialSource)
	m.editor.Focus()
	m.output = viewport.New(0, 0)
	return m, nil
}

// SetScheduler injects the binding's scheduler; Run wires it to
// program.Send before the event loop starts.
func (m *Model) SetScheduler(s ui.Scheduler) {
	m.sched = s
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case applyMsg:
		// A controller flush: apply it, resize widgets to the new
		// geometry, and confirm the commit on the next pass so the
		// release tokens fire after this frame draws.
		msg.update()
		m.syncWidgets()
		return m, func() tea.Msg { return commitMsg{committed: msg.committed} }

	case commitMsg:
		if msg.committed != nil {
			msg.committed()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, m.pushProps()

	case SourceReloadedMsg:
		m.editor.SetValue(msg.Source)
		m.evaluate()
		return m, nil

	case ConsoleLineMsg:
		m.appendConsole(msg.Line)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, m.updateWidgets(msg)
}

// handleKey routes one key press: overlays first, then global bindings,
// then the focused widget.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.quitting = true
		m.teardown()
		return m, tea.Quit
	}

	if m.save != nil {
		return m, m.updateSaveForm(msg)
	}
	if m.helpOpen {
		if key.Matches(msg, m.keys.Help) || msg.String() == "esc" || msg.String() == "q" {
			m.helpOpen = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Run):
		m.evaluate()
		return m, nil
	case key.Matches(msg, m.keys.Save):
		if m.cfg.Store == nil {
			m.status = "no store configured"
			return m, nil
		}
		m.save = newSaveForm(m.cfg.SourceName)
		return m, m.save.form.Init()
	case key.Matches(msg, m.keys.Help):
		m.helpOpen = true
		return m, nil
	case key.Matches(msg, m.keys.ToggleConsole):
		m.dispatch(m.board.Layout(), "toggleConsole")
		return m, nil
	case key.Matches(msg, m.keys.CycleTheme):
		m.dispatch(m.board.Theme(), "cycleTheme")
		return m, nil
	case key.Matches(msg, m.keys.SplitLeft):
		m.dispatch(m.board.Layout(), "adjustSplit", -5)
		return m, nil
	case key.Matches(msg, m.keys.SplitRight):
		m.dispatch(m.board.Layout(), "adjustSplit", 5)
		return m, nil
	case key.Matches(msg, m.keys.FocusNext):
		m.toggleFocus()
		return m, nil
	}

	return m, m.updateWidgets(msg)
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.mounted {
		return "loading..."
	}
	if m.helpOpen {
		return renderHelp(m.width)
	}
	if m.save != nil {
		return m.save.form.View()
	}

	status := lipgloss.NewStyle().
		Foreground(lipgloss.Color(m.board.Theme().String("accent", "63"))).
		Render(m.statusLine())
	return lipgloss.JoinVertical(lipgloss.Left,
		m.binding.View(),
		status,
		m.help.View(m.keys),
	)
}

// =============================================================================
// Controller plumbing
// =============================================================================

// hostProps builds the host's current prop generation: the viewport,
// the pinned theme, the console cap, and whichever controllers the
// injector owns.
func (m *Model) hostProps() (ui.Props, error) {
	base := ui.Props{
		"width":  m.width,
		"height": m.height,
	}
	if m.cfg.Theme != "" {
		base["theme"] = m.cfg.Theme
	}
	if m.cfg.ConsoleLines > 0 {
		base["maxLines"] = m.cfg.ConsoleLines
	}
	return m.inject.Apply(base)
}

// pushProps feeds the current props into the binding, mounting it on
// the first window size.
func (m *Model) pushProps() tea.Cmd {
	props, err := m.hostProps()
	if err != nil {
		m.log.Error("controller injection failed", "error", err)
		return tea.Quit
	}
	if !m.mounted {
		sched := m.sched
		if sched == nil {
			sched = ui.Serial{}
		}
		if err := m.binding.Mount(sched, props); err != nil {
			m.log.Error("mount failed", "error", err)
			return tea.Quit
		}
		m.mounted = true
		m.syncWidgets()
		return nil
	}
	if err := m.binding.Update(props); err != nil {
		m.log.Error("props update failed", "error", err)
	}
	m.syncWidgets()
	return nil
}

// syncWidgets resizes the editor and output widgets to the layout
// controller's current geometry and re-renders the program at the new
// output width.
func (m *Model) syncWidgets() {
	lay := m.board.Layout()
	if lay == nil {
		return
	}
	rows := contentRows(lay.Int("height", m.height), lay.Int("consoleRows", 0), lay.String("mode", "wide"))
	m.editor.SetWidth(lay.Int("editorWidth", 10) - 2)
	m.editor.SetHeight(rows - 3)
	outWidth := lay.Int("outputWidth", 10) - 2
	if m.output.Width != outWidth && m.program != nil {
		m.renderProgram(outWidth)
	}
	m.output.Width = outWidth
	m.output.Height = rows - 3
	m.output.SetContent(m.rendered)
}

// dispatch invokes a bound action found in a controller's output.
func (m *Model) dispatch(out ui.Props, name string, args ...any) {
	fn, ok := control.ActionFunc(out, name)
	if !ok {
		m.log.Warn("action not available yet", "action", name)
		return
	}
	fn(args...)
}

// appendConsole routes one line through the console controller's
// append action, so it arrives under the same flush discipline as
// everything else. Lines before the first mount are dropped.
func (m *Model) appendConsole(line string) {
	if out := m.board.Console(); out != nil {
		m.dispatch(out, "append", line)
	}
}

// teardown closes the controller plumbing on quit.
func (m *Model) teardown() {
	if m.mounted {
		m.binding.Unmount()
		m.mounted = false
	}
	m.inject.Close()
}

// =============================================================================
// Evaluation
// =============================================================================

// evaluate runs the editor contents through transform and the sandbox,
// then renders the program at the output pane's width. Failures land in
// the console strip and the status line; the previous render stays on
// screen.
func (m *Model) evaluate() {
	started := time.Now()
	unit, err := m.cfg.Pipeline.Apply(m.cfg.SourceName, m.editor.Value())
	if err != nil {
		m.status = "transform failed"
		m.appendConsole(err.Error())
		return
	}

	runner := m.cfg.Runner.WithLimits(unit.Meta.MaxSteps, unit.Meta.Timeout)
	prog, err := runner.Eval(context.Background(), unit.Name, unit.Source, m.appendConsole)
	if err != nil {
		m.status = "evaluation failed"
		m.appendConsole(err.Error())
		return
	}

	m.program = prog
	m.renderProgram(m.output.Width)
	m.output.SetContent(m.rendered)
	m.status = fmt.Sprintf("ok in %s", time.Since(started).Round(time.Millisecond))
}

// renderProgram calls the program's mount function at the given width.
func (m *Model) renderProgram(width int) {
	if m.program == nil || width <= 0 {
		return
	}
	text, err := m.program.Mount()(width)
	if err != nil {
		m.status = "render failed"
		m.appendConsole(err.Error())
		return
	}
	m.rendered = text
}

// =============================================================================
// Widgets
// =============================================================================

func (m *Model) toggleFocus() {
	if m.focus == focusEditor {
		m.focus = focusOutput
		m.editor.Blur()
	} else {
		m.focus = focusEditor
		m.editor.Focus()
	}
}

// updateWidgets forwards a message to the focused widget.
func (m *Model) updateWidgets(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	if m.focus == focusEditor {
		m.editor, cmd = m.editor.Update(msg)
	} else {
		m.output, cmd = m.output.Update(msg)
	}
	return cmd
}

// updateSaveForm drives the huh form and performs the store write when
// the form completes.
func (m *Model) updateSaveForm(msg tea.Msg) tea.Cmd {
	form, cmd := m.save.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.save.form = f
	}

	finished, confirmed := m.save.done()
	if !finished {
		return cmd
	}

	name, description := m.save.name, m.save.description
	m.save = nil
	if !confirmed {
		m.status = "save cancelled"
		return cmd
	}

	sn := &store.Snippet{Name: name, Source: m.editor.Value(), Description: description}
	if err := m.cfg.Store.Put(context.Background(), sn); err != nil {
		m.status = "save failed"
		m.appendConsole(err.Error())
		return cmd
	}
	m.cfg.SourceName = sn.Name
	m.status = fmt.Sprintf("saved %q", sn.Name)
	return cmd
}

// statusLine renders the status bar text.
func (m *Model) statusLine() string {
	name := m.cfg.SourceName
	if name == "" {
		name = "scratch"
	}
	parts := []string{name, m.board.Layout().String("mode", ""), m.status}
	if dropped := m.board.Console().Int("dropped", 0); dropped > 0 {
		parts = append(parts, fmt.Sprintf("%d lines dropped", dropped))
	}
	return strings.Join(parts, " · ")
}
