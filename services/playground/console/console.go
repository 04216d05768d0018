// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package console implements the output-capture controller: an
// append-only line ring fed by the sandbox's print hook through the
// append action, so console output flows through the same transaction
// protocol as every other state change.
package console

import (
	"fmt"

	"github.com/AleutianAI/breadboard/pkg/control"
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// DefaultMaxLines caps the ring when the maxLines prop is absent.
const DefaultMaxLines = 500

// buffer is the controller state. Slices are rebuilt on every change so
// outputs handed to subscribers never alias live state.
type buffer struct {
	lines   []string
	dropped int
	max     int
}

// Capture is the console behavior. The zero value is ready to pass to
// control.Instantiate.
type Capture struct{}

var (
	_ control.Behavior    = Capture{}
	_ control.EnvDiffer   = Capture{}
	_ control.EnvUpdater  = Capture{}
	_ control.StateDiffer = Capture{}
)

// Init seeds an empty ring sized from the maxLines prop.
func (Capture) Init(e *control.Engine, input ui.Props) {
	e.SetState(buffer{max: maxLines(input)})
}

// Output exposes a copy of the captured lines plus eviction bookkeeping.
func (Capture) Output(env ui.Props, state any) ui.Props {
	st, _ := state.(buffer)
	lines := make([]string, len(st.lines))
	copy(lines, st.lines)
	return ui.Props{
		"lines":     lines,
		"lineCount": len(lines),
		"dropped":   st.dropped,
	}
}

// Actions declares append and clear.
func (Capture) Actions() map[string]control.Action {
	return map[string]control.Action{
		"append": func(e *control.Engine, args []any) {
			if len(args) == 0 {
				return
			}
			st := e.State().(buffer)
			for _, arg := range args {
				st = push(st, stringify(arg))
			}
			e.SetState(st)
		},
		"clear": func(e *control.Engine, _ []any) {
			st := e.State().(buffer)
			e.SetState(buffer{max: st.max})
		},
	}
}

// EnvDiffers compares only the maxLines prop.
func (Capture) EnvDiffers(old, new ui.Props) bool {
	return maxLines(old) != maxLines(new)
}

// EnvWillUpdate resizes the ring, evicting from the front if the new cap
// is smaller than the current backlog.
func (Capture) EnvWillUpdate(e *control.Engine, _, new ui.Props) {
	st, _ := e.State().(buffer)
	st.max = maxLines(new)
	if over := len(st.lines) - st.max; over > 0 {
		trimmed := make([]string, st.max)
		copy(trimmed, st.lines[over:])
		st.lines = trimmed
		st.dropped += over
	}
	e.SetState(st)
}

// StateDiffers short-circuits the append-only common case: same length
// and same eviction count means the same content.
func (Capture) StateDiffers(old, new any) bool {
	a, _ := old.(buffer)
	b, _ := new.(buffer)
	return len(a.lines) != len(b.lines) || a.dropped != b.dropped || a.max != b.max
}

// push appends one line into a fresh slice, evicting the oldest line when
// the ring is full.
func push(st buffer, line string) buffer {
	max := st.max
	if max <= 0 {
		max = DefaultMaxLines
	}
	next := make([]string, 0, len(st.lines)+1)
	next = append(next, st.lines...)
	next = append(next, line)
	if over := len(next) - max; over > 0 {
		next = next[over:]
		st.dropped += over
	}
	st.lines = next
	st.max = max
	return st
}

func maxLines(p ui.Props) int {
	if n := p.Int("maxLines", DefaultMaxLines); n > 0 {
		return n
	}
	return DefaultMaxLines
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
