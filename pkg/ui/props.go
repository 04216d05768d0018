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

// Props is the untyped key-value bag components and controllers exchange.
//
// Values are opaque to the runtime. Consumers that want typed access
// decode the subset of keys they own (the layout controller uses
// mapstructure for this); producers must treat published Props as
// immutable and build a fresh map per publication.
type Props map[string]any

// Clone returns a shallow copy of p. A nil receiver yields an empty,
// non-nil map so callers can add keys without a nil check.
func (p Props) Clone() Props {
	out := make(Props, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Get returns the value for key and whether it was present.
func (p Props) Get(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

// String returns the string value for key, or def when the key is absent
// or holds a non-string.
func (p Props) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// Int returns the int value for key, or def when the key is absent or
// holds a non-int.
func (p Props) Int(key string, def int) int {
	if v, ok := p[key].(int); ok {
		return v
	}
	return def
}

// Bool returns the bool value for key, or def when the key is absent or
// holds a non-bool.
func (p Props) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}
