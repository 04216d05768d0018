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
	"github.com/charmbracelet/glamour"
)

// helpMarkdown is the overlay text, rendered with glamour. Kept as
// markdown so it stays readable in the source too.
const helpMarkdown = `# Breadboard

Edit Starlark on the left; the rendered output appears on the right.
Programs must define ` + "`render(width)`" + ` returning the text to draw.
` + "`print(...)`" + ` goes to the console strip.

## Keys

| Key | Action |
|-----|--------|
| ctrl+r | run the current source |
| ctrl+s | save snippet |
| tab | switch focus between panes |
| ctrl+o | show/hide console |
| ctrl+t | cycle color theme |
| ctrl+left / ctrl+right | adjust the split |
| ctrl+g | toggle this help |
| ctrl+c | quit |

## Pragmas

Header comments of the form ` + "`# breadboard: key=value`" + ` tune a run:
` + "`name`" + `, ` + "`timeout`" + ` (for example ` + "`500ms`" + `), and ` + "`steps`" + `.

## Modules

` + "`load(\"math.star\", \"math\")`" + `, ` + "`json.star`" + `, and ` + "`time.star`" + `
are available. Nothing else is; snippets cannot reach the filesystem or
the network.
`

// renderHelp renders the help overlay for the given width. A glamour
// failure falls back to the raw markdown, which is still legible.
func renderHelp(width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return helpMarkdown
	}
	out, err := r.Render(helpMarkdown)
	if err != nil {
		return helpMarkdown
	}
	return out
}
