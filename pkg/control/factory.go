// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package control

import (
	"fmt"

	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// Handle is the opaque controller reference minted by Instantiate.
//
// The unexported engine pointer doubles as the brand: a Handle built by
// hand fails IsController, so code receiving arbitrary prop values can
// reliably tell live controllers from everything else. Handles are
// immutable and simply forward the four contract operations.
type Handle struct {
	e *Engine
}

// Set implements Controller.
func (h *Handle) Set(input ui.Props) { h.e.Set(input) }

// Get implements Controller.
func (h *Handle) Get() ui.Props { return h.e.Get() }

// Subscribe implements Controller.
func (h *Handle) Subscribe(sub Subscriber) UnsubscribeFunc { return h.e.Subscribe(sub) }

// Destroy implements Controller.
func (h *Handle) Destroy() { h.e.Destroy() }

// Name returns the controller's diagnostic name.
func (h *Handle) Name() string { return h.e.Name() }

var _ Controller = (*Handle)(nil)

// IsController reports whether v is a live controller handle minted by
// Instantiate. It is a brand check, not an interface check: values that
// merely look like controllers do not pass.
func IsController(v any) bool {
	h, ok := v.(*Handle)
	return ok && h != nil && h.e != nil
}

// Option configures Instantiate and the binding constructors.
type Option func(*options)

type options struct {
	log  *logging.Logger
	name string
}

// WithLogger routes the component's diagnostics through log instead of
// the package default.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithName sets the diagnostic name attached to the controller's log
// records. Defaults to the behavior's dynamic type.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Default()
	}
	return o
}

// Instantiate validates that spec satisfies the Behavior contract, wires
// it into a fresh engine, and returns the branded handle.
//
// The sequence is: seed env with input, freeze the declared actions into
// bound closures, then run the behavior's Init hook (which may seed state;
// nothing is subscribed yet, so no notifications escape). Returns
// ErrNotController when spec is not a Behavior and ErrNilAction when the
// declared action map contains a nil function.
func Instantiate(spec any, input ui.Props, opts ...Option) (*Handle, error) {
	b, ok := spec.(Behavior)
	if !ok || b == nil {
		return nil, fmt.Errorf("%w: got %T", ErrNotController, spec)
	}

	o := buildOptions(opts)
	if o.name == "" {
		o.name = fmt.Sprintf("%T", b)
	}

	e := newEngine(b, o.name, o.log)
	e.env = input.Clone()

	defs := b.Actions()
	e.actionDefs = make(map[string]Action, len(defs))
	e.actions = make(map[string]func(args ...any), len(defs))
	for name, act := range defs {
		if act == nil {
			return nil, fmt.Errorf("%w: action %q on %s", ErrNilAction, name, o.name)
		}
		e.actionDefs[name] = act
		e.actions[name] = func(args ...any) {
			e.dispatch(name, args)
		}
	}

	b.Init(e, input)

	return &Handle{e: e}, nil
}
