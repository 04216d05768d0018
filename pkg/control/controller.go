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
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// DefaultKey is the prop key used by the single-controller forms
// (Controlled, NewSingletonInjector).
const DefaultKey = "controller"

// FlushMarkerKey is the reserved prop key carrying the flush sequence
// number in resolved props. It must not be declared as a controller key;
// NewBinding rejects it with ErrReservedKey.
const FlushMarkerKey = "controllerFlush"

// ReleaseFunc is the release token handed to each subscriber when the
// outermost transaction closes. The controller keeps action dispatch
// locked until every token from that transaction has been invoked, so a
// host cannot trigger a second wave of actions before it has observed the
// flushed state. Tokens are safe to call more than once; calls after the
// first are ignored.
type ReleaseFunc func()

// UnsubscribeFunc removes a subscription. Idempotent.
type UnsubscribeFunc func()

// Subscriber receives a controller's transaction-bracketed change stream.
//
// Delivery guarantees: OnTransactionStart fires exactly once when the
// outermost transaction opens, OnTransactionEnd exactly once when it
// closes, and OnChange only in between, in subscription order across
// subscribers. Any field may be nil; a nil OnTransactionEnd releases its
// token immediately.
type Subscriber struct {
	// OnChange delivers the controller's freshly computed output.
	OnChange func(output ui.Props)

	// OnTransactionStart marks the opening of an outermost transaction.
	OnTransactionStart func()

	// OnTransactionEnd marks the close of an outermost transaction and
	// carries the release token for deferred action unlocking.
	OnTransactionEnd func(release ReleaseFunc)
}

// Controller is the base contract every live controller satisfies:
// set/get/subscribe/destroy plus the transaction protocol delivered
// through Subscribe. Handles minted by Instantiate implement it.
//
// None of the methods panic. Misuse after Destroy is logged and ignored
// so a straggling caller cannot crash an otherwise-healthy host.
type Controller interface {
	// Set feeds a new input generation into the controller, bracketed in
	// a transaction.
	Set(input ui.Props)

	// Get returns the derived output: Behavior.Output over the current
	// env and state, with the bound actions overlaid. Safe to call at any
	// time.
	Get() ui.Props

	// Subscribe registers sub and returns its unsubscribe function.
	Subscribe(sub Subscriber) UnsubscribeFunc

	// Destroy clears subscribers and permanently disables the controller.
	Destroy()
}

// Action is a named, controller-owned operation. The body may read env
// and state through the engine and replace state with SetState any number
// of times; the engine brackets the whole invocation in one transaction
// and coalesces the notifications.
type Action func(e *Engine, args []any)

// Behavior is what a concrete controller plugs into the generic engine.
//
// Output must derive a fresh map from env and state on every call; the
// engine copies it before overlaying actions, so a stale or shared map
// shows up as stale output, not corruption. Actions is called once, at
// Instantiate time; the returned map is frozen.
type Behavior interface {
	// Init runs once before the controller is visible to any caller. It
	// may seed state via e.SetState; no subscribers exist yet.
	Init(e *Engine, input ui.Props)

	// Output derives the externally visible output from the last input
	// and the current state.
	Output(env ui.Props, state any) ui.Props

	// Actions declares the named operations this controller exposes.
	Actions() map[string]Action
}

// EnvDiffer is an optional Behavior hook overriding the input equality
// check. The default compares with reflect.DeepEqual. Behaviors bound
// into prop sets that churn for unrelated reasons (resize counters, other
// controllers' keys) should narrow the comparison to the fields they
// read.
type EnvDiffer interface {
	EnvDiffers(old, new ui.Props) bool
}

// StateDiffer is an optional Behavior hook overriding the state equality
// check used by SetState. The default compares with reflect.DeepEqual.
type StateDiffer interface {
	StateDiffers(old, new any) bool
}

// EnvUpdater is an optional Behavior hook invoked inside Set's
// transaction when the env equality check reports a difference, before
// the new env is stored. It may synchronously call e.SetState; the
// resulting notification coalesces with the env change into one OnChange.
type EnvUpdater interface {
	EnvWillUpdate(e *Engine, old, new ui.Props)
}

// ActionFunc extracts a bound action from a controller output. Hosts use
// it to invoke actions found in resolved props:
//
//	if fn, ok := control.ActionFunc(out, "toggleConsole"); ok {
//	    fn()
//	}
func ActionFunc(out ui.Props, name string) (func(args ...any), bool) {
	fn, ok := out[name].(func(args ...any))
	return fn, ok
}
