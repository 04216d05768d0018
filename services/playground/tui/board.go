// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/breadboard/pkg/ui"
)

// PaneContent supplies the text for one pane at the given inner size.
// The board calls it from View, so it must be side-effect free.
type PaneContent func(width, height int) string

// Board is the component the controller binding wraps. It owns no
// editing or execution state of its own: the geometry arrives as the
// layout controller's output under "layout", the palette under "theme",
// and the captured prints under "console", all refreshed by coalesced
// flushes. Pane text is pulled from the content providers, which the
// host model points at its editor and output widgets.
type Board struct {
	// Editor and Output provide pane contents. Nil providers render
	// empty panes, which keeps the zero value usable in tests.
	Editor PaneContent
	Output PaneContent

	props ui.Props
}

var (
	_ ui.Component = (*Board)(nil)
	_ ui.Named     = (*Board)(nil)
)

// Name implements ui.Named.
func (b *Board) Name() string { return "Board" }

// Mount implements ui.Component.
func (b *Board) Mount(_ ui.Scheduler, props ui.Props) error {
	b.props = props
	return nil
}

// Update implements ui.Component.
func (b *Board) Update(props ui.Props) error {
	b.props = props
	return nil
}

// Unmount implements ui.Component.
func (b *Board) Unmount() {
	b.props = nil
}

// Props returns the last resolved props the binding delivered. The host
// model reads controller outputs (geometry, palette, bound actions)
// through this.
func (b *Board) Props() ui.Props {
	return b.props
}

// Layout returns the layout controller's output, or nil before the
// first flush.
func (b *Board) Layout() ui.Props {
	out, _ := b.props["layout"].(ui.Props)
	return out
}

// Theme returns the theme controller's output, or nil.
func (b *Board) Theme() ui.Props {
	out, _ := b.props["theme"].(ui.Props)
	return out
}

// Console returns the console controller's output, or nil.
func (b *Board) Console() ui.Props {
	out, _ := b.props["console"].(ui.Props)
	return out
}

// View composes the frame: editor and output side by side in wide mode
// or stacked vertically in stacked mode, with the console strip below
// when visible. All geometry comes from the layout controller; View
// never measures anything itself.
func (b *Board) View() string {
	layout := b.Layout()
	if layout == nil {
		return ""
	}

	var (
		mode        = layout.String("mode", "wide")
		editorWidth = layout.Int("editorWidth", 0)
		outputWidth = layout.Int("outputWidth", 0)
		height      = layout.Int("height", 0)
		consoleRows = layout.Int("consoleRows", 0)
		visible     = layout.Bool("consoleVisible", false)
	)

	paneRows := contentRows(height, consoleRows, mode)
	editorPane := b.pane("editor", b.Editor, editorWidth, paneRows)
	outputPane := b.pane("output", b.Output, outputWidth, paneRows)

	var body string
	if mode == "stacked" {
		body = lipgloss.JoinVertical(lipgloss.Left, editorPane, outputPane)
	} else {
		body = lipgloss.JoinHorizontal(lipgloss.Top, editorPane, " ", outputPane)
	}

	if visible && consoleRows > 0 {
		body = lipgloss.JoinVertical(lipgloss.Left, body, b.consolePane(consoleRows))
	}
	return body
}

// pane draws one bordered pane with its title in the border color.
func (b *Board) pane(title string, content PaneContent, width, rows int) string {
	innerWidth := width - 2
	if innerWidth < 1 {
		innerWidth = 1
	}
	innerRows := rows - 2
	if innerRows < 1 {
		innerRows = 1
	}

	text := ""
	if content != nil {
		text = content(innerWidth, innerRows)
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(b.Theme().String("border", "240"))).
		Width(innerWidth).
		Height(innerRows)

	heading := lipgloss.NewStyle().
		Foreground(lipgloss.Color(b.Theme().String("heading", "99"))).
		Render(title)
	return lipgloss.JoinVertical(lipgloss.Left, heading, style.Render(text))
}

// consolePane renders the newest captured lines that fit the strip.
func (b *Board) consolePane(rows int) string {
	lines, _ := b.Console()["lines"].([]string)
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}
	faint := lipgloss.NewStyle().
		Foreground(lipgloss.Color(b.Theme().String("faint", "244")))
	return faint.Render(strings.Join(lines, "\n"))
}

// contentRows splits the viewport height between the panes and the
// console strip. Stacked mode halves what remains because the panes sit
// on top of each other.
func contentRows(height, consoleRows int, mode string) int {
	rows := height - consoleRows - statusBarRows
	if mode == "stacked" {
		rows /= 2
	}
	if rows < 3 {
		rows = 3
	}
	return rows
}
