// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package control implements the controller runtime: stateful,
// side-effecting objects (controllers) decoupled from the components
// that render them, with strict transactional semantics around every
// mutation.
//
// # Overview
//
// A controller owns two prop sets: env, fed in from outside through Set,
// and state, mutated only by its own named actions through SetState. Get
// derives the controller's output from both, plus a bound function per
// action. Components never hold a concrete controller type; they receive
// an opaque Handle built by Instantiate from a Behavior, and test for one
// with IsController.
//
// Every mutation runs inside a transaction. Subscribers see the bracket:
// OnTransactionStart exactly once when the outermost unit opens,
// OnChange for each coalesced state change while the bracket is open,
// and OnTransactionEnd exactly once when it closes, carrying a release
// token. Until the token is called the controller defers further action
// dispatch, which lets a consumer finish observing one batch before the
// next can start. An action calling SetState three times produces one
// OnChange; an action re-entering itself is dropped and logged; any
// operation on a destroyed controller logs and no-ops.
//
// # Binding
//
// Binding (built by Controlled, ControlledBy, or NewBinding) wraps a
// ui.Component and wires controllers carried in its props into the
// component's inputs. It aggregates the transaction brackets of all
// bound controllers into one ledger and coalesces their changes into a
// single scheduled update per batch, releasing the queued tokens after
// the host commits that update. A change arriving with no transaction
// open, or while the update is propagating, panics with
// ErrChangeOutsideTransaction or ErrChangeDuringFlush: the second is
// the guard that stops a component from feeding its own flushed output
// back into a controller in an endless loop.
//
// Injector fills declared controller keys that the host's props leave
// empty, creating defaults once and destroying them when a slot becomes
// externally supplied.
//
// # Thread Safety
//
// The runtime is single-goroutine by design. Transactions overlap as
// nested synchronous call stacks, never as parallel threads; the only
// asynchrony is the host scheduler's deferred update, and the ledger is
// what keeps that deferral coherent. Engines, handles, bindings, and
// injectors must all be driven from the goroutine that owns the UI loop.
// The duplicate-consumer registry is the one shared structure and holds
// its own lock.
package control
