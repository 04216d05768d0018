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
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/breadboard/pkg/control"
	"github.com/AleutianAI/breadboard/pkg/ui"
	"github.com/AleutianAI/breadboard/services/playground/console"
	"github.com/AleutianAI/breadboard/services/playground/layout"
	"github.com/AleutianAI/breadboard/services/playground/theme"
)

func TestMain(m *testing.M) {
	// Pin to the no-color profile so rendered frames are plain text
	// regardless of the terminal running the tests.
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

// mountBoard wires a Board through the real binding and controllers on
// the synchronous scheduler, so flushes land before each call returns.
func mountBoard(t *testing.T, base ui.Props) (*Board, *control.Binding) {
	t.Helper()

	board := &Board{
		Editor: func(w, h int) string { return fmt.Sprintf("editor %dx%d", w, h) },
		Output: func(w, h int) string { return fmt.Sprintf("output %dx%d", w, h) },
	}
	binding, err := control.ControlledBy(board, "layout", "theme", "console")
	require.NoError(t, err)

	inject := control.NewInjector(map[string]any{
		"layout":  layout.Responsive{},
		"theme":   theme.Picker{},
		"console": console.Capture{},
	})
	t.Cleanup(inject.Close)

	props, err := inject.Apply(base)
	require.NoError(t, err)
	require.NoError(t, binding.Mount(ui.Serial{}, props))
	t.Cleanup(binding.Unmount)
	return board, binding
}

func TestBoardWideMode(t *testing.T) {
	board, binding := mountBoard(t, ui.Props{"width": 120, "height": 32})

	require.Equal(t, "wide", board.Layout().String("mode", ""))
	frame := binding.View()
	assert.Contains(t, frame, "editor")
	assert.Contains(t, frame, "output")

	// Side by side: both pane titles on the same line.
	var titled string
	for _, line := range strings.Split(frame, "\n") {
		if strings.Contains(line, "editor") && !strings.Contains(line, "x") {
			titled = line
			break
		}
	}
	assert.Contains(t, titled, "output", "wide mode should place titles on one row")
}

func TestBoardStackedMode(t *testing.T) {
	board, binding := mountBoard(t, ui.Props{"width": 50, "height": 40})

	require.Equal(t, "stacked", board.Layout().String("mode", ""))
	frame := binding.View()

	for _, line := range strings.Split(frame, "\n") {
		if strings.Contains(line, "editor") {
			assert.NotContains(t, line, "output", "stacked mode should not share rows between titles")
		}
	}
}

func TestBoardConsoleToggle(t *testing.T) {
	board, binding := mountBoard(t, ui.Props{"width": 120, "height": 32})
	require.True(t, board.Layout().Bool("consoleVisible", false))

	toggle, ok := control.ActionFunc(board.Layout(), "toggleConsole")
	require.True(t, ok)
	toggle()
	require.False(t, board.Layout().Bool("consoleVisible", true))
	toggle()
	require.True(t, board.Layout().Bool("consoleVisible", false))

	appendLine, ok := control.ActionFunc(board.Console(), "append")
	require.True(t, ok)
	appendLine("hello from the sandbox")

	assert.Contains(t, binding.View(), "hello from the sandbox")
}

func TestBoardPaneRespectsGeometry(t *testing.T) {
	board, binding := mountBoard(t, ui.Props{"width": 120, "height": 32})

	lay := board.Layout()
	total := lay.Int("editorWidth", 0) + lay.Int("outputWidth", 0)
	assert.LessOrEqual(t, total, 120)

	frame := binding.View()
	assert.LessOrEqual(t, lipgloss.Width(frame), 121)
}

func TestBoardViewBeforeMount(t *testing.T) {
	b := &Board{}
	assert.Empty(t, b.View())
}
