// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ui

import "fmt"

// Named is implemented by components that expose a stable display name
// for diagnostics.
type Named interface {
	Name() string
}

// Wrapper is implemented by generated components that decorate another
// component. Unwrap returns the decorated component so tooling can see
// through generated layers.
type Wrapper interface {
	Unwrap() Component
}

// ComponentName returns the display name for c: the first Named in the
// Unwrap chain starting at c itself, falling back to the dynamic type of
// the innermost component.
func ComponentName(c Component) string {
	if c == nil {
		return "<nil>"
	}
	cur := c
	for {
		if n, ok := cur.(Named); ok {
			if name := n.Name(); name != "" {
				return name
			}
		}
		w, ok := cur.(Wrapper)
		if !ok {
			break
		}
		inner := w.Unwrap()
		if inner == nil || inner == cur {
			break
		}
		cur = inner
	}
	return fmt.Sprintf("%T", cur)
}

// Unwrap peels one decoration layer off c, returning c itself when it is
// not a Wrapper.
func Unwrap(c Component) Component {
	if w, ok := c.(Wrapper); ok {
		if inner := w.Unwrap(); inner != nil {
			return inner
		}
	}
	return c
}
