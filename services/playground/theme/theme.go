// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package theme implements the palette controller. State is the palette
// name; output carries the resolved colors so components render without
// reaching back into this package.
package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/AleutianAI/breadboard/pkg/control"
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// Palette names, in cycle order.
const (
	Dark  = "aleutian-dark"
	Light = "paper-light"
	Mono  = "mono"
)

var cycleOrder = []string{Dark, Light, Mono}

// Palette is one resolved color scheme. Colors are ANSI-256 or hex
// strings accepted by lipgloss.Color.
type Palette struct {
	Name    string
	Accent  lipgloss.Color
	Border  lipgloss.Color
	Heading lipgloss.Color
	Faint   lipgloss.Color
	Error   lipgloss.Color
}

var palettes = map[string]Palette{
	Dark: {
		Name:    Dark,
		Accent:  lipgloss.Color("39"),
		Border:  lipgloss.Color("241"),
		Heading: lipgloss.Color("212"),
		Faint:   lipgloss.Color("244"),
		Error:   lipgloss.Color("196"),
	},
	Light: {
		Name:    Light,
		Accent:  lipgloss.Color("26"),
		Border:  lipgloss.Color("250"),
		Heading: lipgloss.Color("90"),
		Faint:   lipgloss.Color("245"),
		Error:   lipgloss.Color("124"),
	},
	Mono: {
		Name:    Mono,
		Accent:  lipgloss.Color("15"),
		Border:  lipgloss.Color("8"),
		Heading: lipgloss.Color("15"),
		Faint:   lipgloss.Color("7"),
		Error:   lipgloss.Color("15"),
	},
}

// Lookup resolves a palette by name, falling back to the dark palette for
// unknown names.
func Lookup(name string) Palette {
	if p, ok := palettes[name]; ok {
		return p
	}
	return palettes[Dark]
}

// DetectDefault picks the starting palette from the terminal background.
func DetectDefault() string {
	if termenv.HasDarkBackground() {
		return Dark
	}
	return Light
}

// Picker is the palette controller behavior. The zero value is ready to
// pass to control.Instantiate.
type Picker struct{}

var (
	_ control.Behavior    = Picker{}
	_ control.EnvDiffer   = Picker{}
	_ control.EnvUpdater  = Picker{}
	_ control.StateDiffer = Picker{}
)

// Init seeds the palette from the theme prop, or from terminal detection
// when the prop is absent or unknown.
func (Picker) Init(e *control.Engine, input ui.Props) {
	e.SetState(resolveName(input.String("theme", "")))
}

// Output exposes the palette name and its resolved colors.
func (Picker) Output(env ui.Props, state any) ui.Props {
	name, _ := state.(string)
	p := Lookup(name)
	return ui.Props{
		"theme":      p.Name,
		"accent":     string(p.Accent),
		"border":     string(p.Border),
		"heading":    string(p.Heading),
		"faint":      string(p.Faint),
		"errorColor": string(p.Error),
	}
}

// Actions declares setTheme and cycleTheme.
func (Picker) Actions() map[string]control.Action {
	return map[string]control.Action{
		"setTheme": func(e *control.Engine, args []any) {
			name, ok := argString(args, 0)
			if !ok {
				e.Log().Error("setTheme requires a palette name", "got", args)
				return
			}
			if _, known := palettes[name]; !known {
				e.Log().Error("unknown palette", "theme", name)
				return
			}
			e.SetState(name)
		},
		"cycleTheme": func(e *control.Engine, _ []any) {
			cur, _ := e.State().(string)
			e.SetState(nextPalette(cur))
		},
	}
}

// EnvDiffers compares only the theme prop.
func (Picker) EnvDiffers(old, new ui.Props) bool {
	return old.String("theme", "") != new.String("theme", "")
}

// EnvWillUpdate adopts an explicit theme prop into state.
func (Picker) EnvWillUpdate(e *control.Engine, _, new ui.Props) {
	if name := new.String("theme", ""); name != "" {
		e.SetState(resolveName(name))
	}
}

// StateDiffers compares palette names. Cycling through a single palette,
// or setting the palette already active, produces no notification.
func (Picker) StateDiffers(old, new any) bool {
	a, _ := old.(string)
	b, _ := new.(string)
	return a != b
}

func nextPalette(cur string) string {
	for i, name := range cycleOrder {
		if name == cur {
			return cycleOrder[(i+1)%len(cycleOrder)]
		}
	}
	return cycleOrder[0]
}

func resolveName(name string) string {
	if _, ok := palettes[name]; ok {
		return name
	}
	return DetectDefault()
}

func argString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}
