// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform prepares snippet source for the sandbox.
//
// The transform step is a staged pipeline over a Unit: each stage reads
// and rewrites the source or attaches metadata, and the first failing
// stage aborts the run. The shipped stages normalize line endings,
// extract "# breadboard:" header pragmas, and syntax-check the source so
// broken programs fail here, with a line number, instead of inside the
// sandbox.
package transform

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/syntax"
)

var (
	// ErrEmptySource is returned when the pipeline is applied to blank
	// input.
	ErrEmptySource = errors.New("source is empty")

	// ErrSyntax wraps Starlark parse failures from the SyntaxCheck
	// stage.
	ErrSyntax = errors.New("syntax error")
)

// pragmaPrefix marks a header directive line. Pragmas must appear before
// the first non-comment line; anything later is ordinary source.
const pragmaPrefix = "# breadboard:"

// Meta carries pragma-derived metadata out of the pipeline. Zero fields
// mean "not specified"; the caller keeps its defaults.
type Meta struct {
	// Name overrides the program name shown in errors and the UI.
	Name string

	// Timeout overrides the sandbox wall-clock budget, subject to the
	// host's hard caps.
	Timeout time.Duration

	// MaxSteps overrides the sandbox step budget, subject to the host's
	// hard caps.
	MaxSteps uint64
}

// Unit is the value threaded through the stages.
type Unit struct {
	// Name is the program name used for parse errors.
	Name string

	// Source is the current source text; stages rewrite it in place.
	Source string

	// Meta accumulates pragma metadata.
	Meta Meta
}

// Stage is one pipeline step.
type Stage func(*Unit) error

// Pipeline is an ordered list of stages applied to each snippet.
type Pipeline struct {
	stages []Stage
}

// New builds a pipeline from the given stages, in order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Default returns the standard pipeline: Normalize, Pragmas, SyntaxCheck.
func Default() *Pipeline {
	return New(Normalize, Pragmas, SyntaxCheck)
}

// Apply runs src through the pipeline and returns the resulting unit.
// name labels parse errors; empty defaults to "snippet".
func (p *Pipeline) Apply(name, src string) (*Unit, error) {
	if name == "" {
		name = "snippet"
	}
	u := &Unit{Name: name, Source: src}
	for _, stage := range p.stages {
		if err := stage(u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// =============================================================================
// Stages
// =============================================================================

// Normalize rewrites CRLF line endings, expands leading tabs to four
// spaces, and strips trailing whitespace per line. Starlark is
// indentation-sensitive, so mixed tabs and spaces from pasted snippets
// are resolved here once instead of failing in the parser.
func Normalize(u *Unit) error {
	if strings.TrimSpace(u.Source) == "" {
		return ErrEmptySource
	}
	src := strings.ReplaceAll(u.Source, "\r\n", "\n")
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(expandIndent(line), " \t")
	}
	u.Source = strings.Join(lines, "\n")
	if !strings.HasSuffix(u.Source, "\n") {
		u.Source += "\n"
	}
	return nil
}

// Pragmas extracts "# breadboard: key=value" directives from the comment
// header into the unit's metadata. Recognized keys: name, timeout,
// steps. Unknown keys and malformed values are ignored; a pragma is a
// hint, not a contract. Pragma lines are left in the source, where they
// remain ordinary comments.
func Pragmas(u *Unit) error {
	for _, line := range strings.Split(u.Source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		if !strings.HasPrefix(trimmed, pragmaPrefix) {
			continue
		}
		applyPragma(&u.Meta, strings.TrimSpace(strings.TrimPrefix(trimmed, pragmaPrefix)))
	}
	if u.Meta.Name != "" {
		u.Name = u.Meta.Name
	}
	return nil
}

// SyntaxCheck parses the source with the sandbox's Starlark dialect and
// rejects programs that cannot compile. The dialect here must stay in
// lockstep with the sandbox runner's, or a snippet could pass the check
// and still fail to execute.
func SyntaxCheck(u *Unit) error {
	opts := &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
	}
	if _, err := opts.Parse(u.Name, u.Source, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// applyPragma folds one "key=value" directive into meta.
func applyPragma(meta *Meta, directive string) {
	key, value, ok := strings.Cut(directive, "=")
	if !ok {
		return
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}

	switch key {
	case "name":
		meta.Name = value
	case "timeout":
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			meta.Timeout = d
		}
	case "steps":
		var n uint64
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil && n > 0 {
			meta.MaxSteps = n
		}
	}
}

// expandIndent replaces leading tabs with four spaces each, leaving
// interior tabs alone.
func expandIndent(line string) string {
	i := 0
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	indent := strings.ReplaceAll(line[:i], "\t", "    ")
	return indent + line[i:]
}
