// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox evaluates snippet programs in an embedded Starlark
// interpreter and hands the host a render function it can call on every
// frame.
//
// A program is ordinary Starlark source that defines render(width). Eval
// executes the source once, top to bottom, with print routed to the
// caller's hook and load() restricted to the interpreter's bundled
// standard modules. The resulting Program wraps the script's render
// function; Mount adapts it to the func(width) (string, error) shape the
// playground panes consume.
//
// Every execution runs under two budgets: a computation step limit
// enforced by the interpreter itself and a wall-clock timeout enforced by
// a watchdog goroutine that cancels the thread. Scripts cannot recurse,
// cannot touch the filesystem or network, and cannot block the host; the
// worst a hostile snippet can do is burn its own budget and fail.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/AleutianAI/breadboard/pkg/logging"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoRender is returned when an evaluated program does not define
	// a top-level render function.
	ErrNoRender = errors.New("program does not define render(width)")

	// ErrNotCallable is returned when the program binds render to a
	// value that cannot be called.
	ErrNotCallable = errors.New("render is not callable")

	// ErrModuleNotAllowed is returned by the load() hook for any module
	// outside the bundled standard set.
	ErrModuleNotAllowed = errors.New("module not allowed")
)

// EvalError reports a failed execution together with the interpreter
// backtrace, which names the script line at fault. It wraps the
// underlying error, so errors.Is/As see through it (for example to
// *starlark.EvalError or ErrModuleNotAllowed).
type EvalError struct {
	// Name is the program name the script was evaluated under.
	Name string

	// Backtrace is the interpreter's call stack at the point of
	// failure, or the bare error text when no stack exists (syntax and
	// cancellation errors).
	Backtrace string

	err error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("sandbox: %s: %v", e.Name, e.err)
}

func (e *EvalError) Unwrap() error { return e.err }

// wrapEval normalizes interpreter failures into *EvalError, preserving
// the Starlark backtrace when one exists.
func wrapEval(name string, err error) error {
	var stErr *starlark.EvalError
	if errors.As(err, &stErr) {
		return &EvalError{Name: name, Backtrace: stErr.Backtrace(), err: err}
	}
	return &EvalError{Name: name, Backtrace: err.Error(), err: err}
}

// =============================================================================
// Runner
// =============================================================================

// fileOptions is the dialect every snippet is parsed with. Sets, while
// loops, top-level control flow, and global reassignment are all on;
// recursion stays off so the step limit is the only unbounded-work
// concern.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Config controls the execution budgets for a Runner.
type Config struct {
	// MaxSteps bounds the number of Starlark computation steps for a
	// single evaluation or render call. The interpreter cancels the
	// thread when the budget is exhausted.
	// Default: 500000.
	MaxSteps uint64

	// Timeout is the wall-clock budget for a single evaluation or
	// render call, enforced by a watchdog goroutine.
	// Default: 2 seconds.
	Timeout time.Duration

	// Logger receives diagnostics for failed executions.
	// If nil, the package default logger is used.
	Logger *logging.Logger
}

// DefaultConfig returns budgets suited to interactive editing: generous
// enough for honest snippets, tight enough that a runaway loop cannot
// freeze the playground.
func DefaultConfig() Config {
	return Config{
		MaxSteps: 500_000,
		Timeout:  2 * time.Second,
	}
}

// Runner evaluates snippet source under configured budgets. A Runner is
// cheap and stateless; derive per-snippet variants with WithLimits.
type Runner struct {
	cfg Config
	log *logging.Logger
}

// New creates a Runner, filling unset Config fields from DefaultConfig.
func New(cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Runner{cfg: cfg, log: log.With("component", "sandbox")}
}

// WithLimits returns a copy of the Runner with the given budgets.
// Zero values keep the receiver's budgets, so pragma overrides can be
// applied without re-stating defaults.
func (r *Runner) WithLimits(steps uint64, timeout time.Duration) *Runner {
	out := *r
	if steps > 0 {
		out.cfg.MaxSteps = steps
	}
	if timeout > 0 {
		out.cfg.Timeout = timeout
	}
	return &out
}

// Eval executes src top to bottom and returns the resulting Program.
//
// The script's print calls are routed to the print hook (nil discards
// them), and load() resolves only the bundled standard modules. The
// source must define render(width) at top level. Interpreter failures
// come back as *EvalError carrying the script backtrace; the host is
// never panicked.
func (r *Runner) Eval(ctx context.Context, name, src string, print func(string)) (*Program, error) {
	if name == "" {
		name = "snippet"
	}
	if print == nil {
		print = func(string) {}
	}

	thread := r.newThread(name, print)
	stop := r.watch(ctx, thread)
	globals, err := starlark.ExecFileOptions(fileOptions, thread, name, src, nil)
	stop()
	if err != nil {
		r.log.Debug("evaluation failed", "program", name, "error", err)
		return nil, wrapEval(name, err)
	}

	render, ok := globals["render"]
	if !ok {
		return nil, fmt.Errorf("sandbox: %s: %w", name, ErrNoRender)
	}
	fn, ok := render.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("sandbox: %s: %w (got %s)", name, ErrNotCallable, render.Type())
	}

	return &Program{r: r, name: name, print: print, render: fn}, nil
}

// newThread builds a fresh interpreter thread with the Runner's step
// budget, the program's print hook, and the restricted module loader.
// Threads are single-use; each evaluation or render call gets its own.
func (r *Runner) newThread(name string, print func(string)) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			print(msg)
		},
		Load: loadModule,
	}
	thread.SetMaxExecutionSteps(r.cfg.MaxSteps)
	return thread
}

// watch cancels the thread when the wall-clock budget or the caller's
// context expires. The returned stop function must be called exactly
// once when execution finishes; it releases the watchdog goroutine.
func (r *Runner) watch(ctx context.Context, thread *starlark.Thread) (stop func()) {
	done := make(chan struct{})
	timer := time.NewTimer(r.cfg.Timeout)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			thread.Cancel("time budget exceeded")
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	return func() { close(done) }
}

// =============================================================================
// Module loader
// =============================================================================

// stdModules maps the names load() accepts to the interpreter's bundled
// standard modules. Everything else is rejected; snippets have no path
// to the filesystem.
var stdModules = map[string]starlark.StringDict{
	"math.star": {"math": starlarkmath.Module},
	"json.star": {"json": starlarkjson.Module},
	"time.star": {"time": starlarktime.Module},
}

func loadModule(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	if dict, ok := stdModules[module]; ok {
		return dict, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrModuleNotAllowed, module)
}

// =============================================================================
// Program
// =============================================================================

// Program is an evaluated snippet whose render function is ready to
// call. Programs hold no interpreter state beyond the script's globals
// captured inside the render closure; each render call runs on a fresh
// thread under the Runner's budgets.
type Program struct {
	r      *Runner
	name   string
	print  func(string)
	render starlark.Callable
}

// Name returns the name the program was evaluated under.
func (p *Program) Name() string { return p.name }

// Mount returns the render function in the shape the playground panes
// consume. The returned function is not safe for concurrent use; the
// host calls it from its single UI goroutine.
func (p *Program) Mount() func(width int) (string, error) {
	return func(width int) (string, error) {
		return p.renderAt(width)
	}
}

func (p *Program) renderAt(width int) (string, error) {
	thread := p.r.newThread(p.name, p.print)
	stop := p.r.watch(context.Background(), thread)
	defer stop()

	v, err := starlark.Call(thread, p.render, starlark.Tuple{starlark.MakeInt(width)}, nil)
	if err != nil {
		p.r.log.Debug("render failed", "program", p.name, "width", width, "error", err)
		return "", wrapEval(p.name, err)
	}
	return renderText(v), nil
}

// renderText converts the script's return value to pane text. Strings
// pass through unquoted, None renders empty, and anything else uses the
// value's Starlark representation.
func renderText(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	if v == starlark.None {
		return ""
	}
	return v.String()
}
