// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TestDefaultPipelineGolden locks down the exact bytes the default
// pipeline hands to the sandbox for a pasted snippet with Windows line
// endings, tab indentation, and trailing whitespace.
func TestDefaultPipelineGolden(t *testing.T) {
	src := "# breadboard: name=badge\r\n" +
		"# breadboard: timeout=250ms\r\n" +
		"\r\n" +
		"def render(width):\r\n" +
		"\treturn \"=\" * width \r\n"

	unit, err := Default().Apply("pasted", src)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if unit.Name != "badge" {
		t.Fatalf("expected pragma name, got %q", unit.Name)
	}

	g := goldie.New(t)
	g.Assert(t, "normalize", []byte(unit.Source))
}
