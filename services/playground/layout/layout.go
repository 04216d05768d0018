// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout implements the dual-mode responsive layout controller.
//
// The controller derives pane geometry from the viewport carried in its
// input props. Wide mode places editor and output side by side with a
// console strip below; stacked mode stacks the panes vertically. Mode
// selection is automatic on width with hysteresis (different thresholds
// for narrowing and widening, so jitter around one boundary cannot
// oscillate), and can be pinned by an explicit mode prop or the setMode
// action until setMode("auto") releases it.
package layout

import (
	"github.com/mitchellh/mapstructure"

	"github.com/AleutianAI/breadboard/pkg/control"
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// Layout modes.
const (
	ModeAuto    = "auto"
	ModeWide    = "wide"
	ModeStacked = "stacked"
)

// Hysteresis thresholds, in columns. Wide drops to stacked below
// narrowBelow; stacked returns to wide at wideAt or more. The dead band
// between them absorbs resize jitter.
const (
	narrowBelow = 96
	wideAt      = 104
)

// Split and console bounds.
const (
	minSplitPct = 20
	maxSplitPct = 80
	gutterCols  = 3
	minConsole  = 3
	maxConsole  = 10
)

// viewport is the slice of the input props this controller reads.
// Everything else in the prop set is ignored by the equality hook, so
// unrelated host churn never opens a transaction wave.
type viewport struct {
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	Mode   string `mapstructure:"mode"`
}

// geometry is the controller state. Replaced wholesale on every change.
type geometry struct {
	mode        string
	pinned      string
	splitPct    int
	consoleOpen bool
	width       int
	height      int
}

// Responsive is the layout behavior. The zero value is ready to pass to
// control.Instantiate.
type Responsive struct{}

var (
	_ control.Behavior    = Responsive{}
	_ control.EnvDiffer   = Responsive{}
	_ control.EnvUpdater  = Responsive{}
	_ control.StateDiffer = Responsive{}
)

// Init seeds the geometry from the first input generation.
func (Responsive) Init(e *control.Engine, input ui.Props) {
	vp := decodeViewport(input)
	st := geometry{
		splitPct:    50,
		consoleOpen: true,
	}
	e.SetState(applyViewport(st, vp))
}

// Output exposes the resolved pane geometry.
func (Responsive) Output(env ui.Props, state any) ui.Props {
	st, _ := state.(geometry)
	editor, output := paneWidths(st)
	return ui.Props{
		"mode":           st.mode,
		"editorWidth":    editor,
		"outputWidth":    output,
		"splitPct":       st.splitPct,
		"consoleVisible": st.consoleOpen,
		"consoleRows":    consoleRows(st),
		"width":          st.width,
		"height":         st.height,
	}
}

// Actions declares the layout operations.
func (Responsive) Actions() map[string]control.Action {
	return map[string]control.Action{
		"setMode": func(e *control.Engine, args []any) {
			mode, ok := argString(args, 0)
			if !ok || (mode != ModeAuto && mode != ModeWide && mode != ModeStacked) {
				e.Log().Error("setMode requires auto, wide, or stacked", "got", args)
				return
			}
			st := e.State().(geometry)
			if mode == ModeAuto {
				st.pinned = ""
				st.mode = autoMode(st.mode, st.width)
			} else {
				st.pinned = mode
				st.mode = mode
			}
			e.SetState(st)
		},
		"toggleConsole": func(e *control.Engine, _ []any) {
			st := e.State().(geometry)
			st.consoleOpen = !st.consoleOpen
			e.SetState(st)
		},
		"adjustSplit": func(e *control.Engine, args []any) {
			delta, ok := argInt(args, 0)
			if !ok {
				e.Log().Error("adjustSplit requires an integer delta", "got", args)
				return
			}
			st := e.State().(geometry)
			st.splitPct = clamp(st.splitPct+delta, minSplitPct, maxSplitPct)
			e.SetState(st)
		},
	}
}

// EnvDiffers narrows the input comparison to the viewport fields.
func (Responsive) EnvDiffers(old, new ui.Props) bool {
	return decodeViewport(old) != decodeViewport(new)
}

// EnvWillUpdate recomputes the geometry for the incoming viewport before
// the engine stores it; the state change coalesces with the env change.
func (Responsive) EnvWillUpdate(e *control.Engine, _, new ui.Props) {
	st, _ := e.State().(geometry)
	e.SetState(applyViewport(st, decodeViewport(new)))
}

// StateDiffers compares geometry values directly.
func (Responsive) StateDiffers(old, new any) bool {
	a, _ := old.(geometry)
	b, _ := new.(geometry)
	return a != b
}

// =============================================================================
// Geometry
// =============================================================================

// applyViewport folds a decoded viewport into the state: the explicit
// mode prop pins or releases, an action pin holds, and otherwise the
// hysteresis rule decides from the width.
func applyViewport(st geometry, vp viewport) geometry {
	st.width = vp.Width
	st.height = vp.Height

	switch vp.Mode {
	case ModeWide, ModeStacked:
		st.pinned = vp.Mode
	case ModeAuto:
		st.pinned = ""
	}

	if st.pinned != "" {
		st.mode = st.pinned
	} else {
		st.mode = autoMode(st.mode, st.width)
	}
	if st.splitPct == 0 {
		st.splitPct = 50
	}
	return st
}

// autoMode applies the hysteresis rule. The current mode decides which
// threshold is live; an unset mode starts from the wide rule.
func autoMode(cur string, width int) string {
	if cur == ModeStacked {
		if width >= wideAt {
			return ModeWide
		}
		return ModeStacked
	}
	if width < narrowBelow {
		return ModeStacked
	}
	return ModeWide
}

// paneWidths splits the viewport between editor and output. Stacked mode
// gives both panes the full width; wide mode divides the width minus the
// gutter by splitPct, keeping both panes at least one column.
func paneWidths(st geometry) (editor, output int) {
	if st.mode == ModeStacked {
		return st.width, st.width
	}
	content := st.width - gutterCols
	if content < 2 {
		content = 2
	}
	editor = content * st.splitPct / 100
	if editor < 1 {
		editor = 1
	}
	output = content - editor
	if output < 1 {
		output = 1
		editor = content - 1
	}
	return editor, output
}

// consoleRows sizes the console strip: a quarter of the viewport height,
// clamped, and zero while hidden.
func consoleRows(st geometry) int {
	if !st.consoleOpen {
		return 0
	}
	return clamp(st.height/4, minConsole, maxConsole)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// =============================================================================
// Prop Decoding
// =============================================================================

// decodeViewport pulls the viewport fields out of a prop set. Weak typing
// accepts JSON-originated numbers (float64) from the gallery transport.
func decodeViewport(p ui.Props) viewport {
	var vp viewport
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &vp,
	})
	if err != nil {
		return vp
	}
	_ = dec.Decode(map[string]any(p))
	return vp
}

func argString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argInt(args []any, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
