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
	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// Injector fills missing controller props with auto-created defaults.
//
// An Injector is declared once with a key→behavior map and applied to
// each generation of a host's props. Keys whose slots already carry an
// externally supplied controller pass through untouched; every other
// declared key gets a controller instantiated from its behavior, created
// on first need and reused across applications. When a previously missing
// slot becomes externally supplied, the auto-created controller for that
// key is destroyed and dropped.
//
// Close destroys whatever the injector still owns; call it when the
// owning scope ends. An Injector is single-goroutine, like everything
// else in this package.
type Injector struct {
	log    *logging.Logger
	specs  map[string]any
	owned  map[string]*Handle
	warned bool
}

// NewInjector declares the controller keys and their default behaviors.
// Declaring zero keys is legal but pointless; the first Apply warns once
// and passes props through unchanged.
func NewInjector(specs map[string]any, opts ...Option) *Injector {
	o := buildOptions(opts)
	owned := make(map[string]*Handle, len(specs))
	return &Injector{
		log:   o.log,
		specs: specs,
		owned: owned,
	}
}

// NewSingletonInjector declares a single default behavior under
// DefaultKey. It is the batch form's shorthand for hosts with one
// controller.
func NewSingletonInjector(spec any, opts ...Option) *Injector {
	return NewInjector(map[string]any{DefaultKey: spec}, opts...)
}

// Apply returns props with every declared-but-unsupplied key filled by an
// auto-created controller. The input map is not modified. Instantiation
// failures abort the whole application: a behavior that cannot
// instantiate is a configuration error, not a per-key condition.
func (inj *Injector) Apply(props ui.Props) (ui.Props, error) {
	if len(inj.specs) == 0 {
		if !inj.warned {
			inj.log.Warn("injector declares no controller keys")
			inj.warned = true
		}
		return props, nil
	}

	out := props.Clone()
	for key, spec := range inj.specs {
		if IsController(props[key]) {
			// Slot is externally supplied; an earlier auto-created
			// controller for this key is now shadowed and must die.
			if h, ok := inj.owned[key]; ok {
				h.Destroy()
				delete(inj.owned, key)
			}
			continue
		}

		h, ok := inj.owned[key]
		if !ok {
			created, err := Instantiate(spec, props, WithLogger(inj.log), WithName(key))
			if err != nil {
				return nil, NewKeyError(key, err)
			}
			inj.owned[key] = created
			h = created
		}
		out[key] = h
	}
	return out, nil
}

// Owned reports whether the injector currently owns an auto-created
// controller for key.
func (inj *Injector) Owned(key string) bool {
	_, ok := inj.owned[key]
	return ok
}

// Close destroys all auto-created controllers still owned by the
// injector. Idempotent.
func (inj *Injector) Close() {
	for key, h := range inj.owned {
		h.Destroy()
		delete(inj.owned, key)
	}
}
