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
	"errors"
	"strings"
	"testing"
	"time"
)

func TestApply_ValidProgram(t *testing.T) {
	u, err := Default().Apply("demo", "def render(width):\n    return \"ok\"\n")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if u.Name != "demo" {
		t.Errorf("name = %q, want demo", u.Name)
	}
}

func TestApply_EmptySource(t *testing.T) {
	_, err := Default().Apply("demo", "   \n\t\n")
	if !errors.Is(err, ErrEmptySource) {
		t.Fatalf("err = %v, want ErrEmptySource", err)
	}
}

func TestApply_SyntaxErrorFailsBeforeSandbox(t *testing.T) {
	_, err := Default().Apply("demo", "def render(width:\n    return 1\n")
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("err = %v, want ErrSyntax", err)
	}
}

func TestNormalize_LineEndingsAndTabs(t *testing.T) {
	u := &Unit{Source: "def render(width):\r\n\treturn 1  \r\n"}
	if err := Normalize(u); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if strings.Contains(u.Source, "\r") {
		t.Error("CRLF survived normalization")
	}
	if !strings.Contains(u.Source, "\n    return 1\n") {
		t.Errorf("indent/trailing-space normalization failed: %q", u.Source)
	}
}

func TestPragmas_HeaderDirectives(t *testing.T) {
	src := strings.Join([]string{
		"# breadboard: name=clock",
		"# breadboard: timeout=1500ms",
		"# breadboard: steps=9000",
		"# plain comment",
		"def render(width):",
		"    return \"x\"",
		"",
	}, "\n")

	u, err := Default().Apply("demo", src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if u.Meta.Name != "clock" || u.Name != "clock" {
		t.Errorf("name = %q/%q, want clock", u.Meta.Name, u.Name)
	}
	if u.Meta.Timeout != 1500*time.Millisecond {
		t.Errorf("timeout = %v, want 1.5s", u.Meta.Timeout)
	}
	if u.Meta.MaxSteps != 9000 {
		t.Errorf("steps = %d, want 9000", u.Meta.MaxSteps)
	}
}

func TestPragmas_OnlyHeaderCounts(t *testing.T) {
	src := "x = 1\n# breadboard: timeout=9s\ndef render(width):\n    return x\n"
	u, err := Default().Apply("demo", src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if u.Meta.Timeout != 0 {
		t.Errorf("pragma after first statement applied: %v", u.Meta.Timeout)
	}
}

func TestPragmas_MalformedValuesIgnored(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"no equals", "# breadboard: timeout"},
		{"bad duration", "# breadboard: timeout=fast"},
		{"negative steps", "# breadboard: steps=-5"},
		{"unknown key", "# breadboard: color=red"},
		{"empty value", "# breadboard: name="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.line + "\npass\n"
			u, err := Default().Apply("demo", src)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if u.Meta != (Meta{}) {
				t.Errorf("meta = %+v, want zero", u.Meta)
			}
		})
	}
}

func TestSyntaxCheck_DialectAllowsWhileAndSet(t *testing.T) {
	src := "s = set()\ni = 0\nwhile i < 3:\n    i += 1\ndef render(width):\n    return i\n"
	if _, err := Default().Apply("demo", src); err != nil {
		t.Fatalf("dialect rejected while/set: %v", err)
	}
}
