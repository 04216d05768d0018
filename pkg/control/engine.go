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
	"reflect"

	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// Engine is the generic controller implementation. It owns the state
// storage, change detection, action dispatch, re-entrancy guards, and
// transaction bookkeeping; a Behavior supplies everything
// domain-specific.
//
// Behaviors receive the engine in their hooks and use SetState, State,
// Env, and Log. Everything else on the engine is reached through the
// Handle minted by Instantiate.
//
// Engines are single-goroutine objects: every mutation of one engine must
// come from the goroutine that owns its host (see the package doc). State
// is replaced wholesale, never mutated, so Get results can be handed
// across goroutine boundaries freely.
type Engine struct {
	log      *logging.Logger
	name     string
	behavior Behavior

	env   ui.Props
	state any

	// actionDefs is the frozen declaration map; actions holds the bound
	// closures overlaid onto Get output.
	actionDefs map[string]Action
	actions    map[string]func(args ...any)

	listeners []*listener

	// txLevel counts open transaction brackets; listeners are notified
	// only at the 0→1 and 1→0 edges.
	txLevel int

	// unitDepth counts open Set/action frames. While a unit is open,
	// SetState notifications are deferred and coalesced into one OnChange
	// delivered just before the unit's bracket closes.
	unitDepth int
	pending   bool

	running   map[string]struct{}
	destroyed bool

	// locks counts outstanding release tokens; while nonzero, action
	// dispatch is deferred into the FIFO below.
	locks     int
	deferred  []deferredCall
	notifying bool
	draining  bool
}

type listener struct {
	sub     Subscriber
	removed bool
}

type deferredCall struct {
	name string
	args []any
}

// newEngine wires a behavior into a fresh engine. The caller (Instantiate)
// seeds env, freezes actions, and runs Init.
func newEngine(b Behavior, name string, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{
		log:      log.With("controller", name),
		name:     name,
		behavior: b,
		running:  make(map[string]struct{}),
	}
}

// =============================================================================
// Public Contract (wrapped by Handle)
// =============================================================================

// Set feeds a new input generation into the controller.
//
// The whole call is bracketed in one transaction. When the env equality
// hook reports a difference, the EnvWillUpdate hook (if any) runs first
// and may replace state; the env change and any state changes coalesce
// into a single OnChange. When the hook reports no difference the bracket
// still fires, with no notification inside it.
func (e *Engine) Set(input ui.Props) {
	if e.destroyed {
		e.log.Error("set called on destroyed controller")
		return
	}

	e.beginTransaction()
	e.unitDepth++

	old := e.env
	if e.envDiffers(old, input) {
		if up, ok := e.behavior.(EnvUpdater); ok {
			up.EnvWillUpdate(e, old, input)
		}
		e.pending = true
	}
	e.env = input

	e.unitDepth--
	e.finishUnit()
	e.endTransaction()
}

// Get returns the derived output: Behavior.Output over the current env
// and state, copied, with the bound actions overlaid under their names.
// Safe to call at any time; after Destroy it returns the output of the
// frozen snapshot.
func (e *Engine) Get() ui.Props {
	out := e.behavior.Output(e.env, e.state).Clone()
	for name, fn := range e.actions {
		out[name] = fn
	}
	return out
}

// Subscribe registers sub at the end of the notification order and
// returns its unsubscribe function. Subscribing to a destroyed controller
// logs and returns a no-op unsubscribe.
func (e *Engine) Subscribe(sub Subscriber) UnsubscribeFunc {
	if e.destroyed {
		e.log.Error("subscribe called on destroyed controller")
		return func() {}
	}

	l := &listener{sub: sub}
	e.listeners = append(e.listeners, l)
	return func() {
		if l.removed {
			return
		}
		l.removed = true
		for i, cur := range e.listeners {
			if cur == l {
				e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
				break
			}
		}
	}
}

// Destroy clears every subscriber, drops pending locks and deferred
// dispatches, and permanently disables the controller. Idempotent; later
// calls to any operation log and no-op.
func (e *Engine) Destroy() {
	if e.destroyed {
		e.log.Debug("destroy called on already-destroyed controller")
		return
	}
	e.destroyed = true
	e.listeners = nil
	e.running = make(map[string]struct{})
	e.locks = 0
	e.deferred = nil
	e.pending = false
}

// =============================================================================
// Behavior-Facing Surface
// =============================================================================

// SetState replaces the controller state when the state equality hook
// reports a difference.
//
// Inside an open Set/action frame the notification is deferred and
// coalesced: however many times the frame calls SetState, subscribers see
// one OnChange carrying the output of the final state. Outside any frame,
// SetState brackets its single notification in a micro-transaction.
func (e *Engine) SetState(next any) {
	if e.destroyed {
		e.log.Error("setState called on destroyed controller")
		return
	}
	if !e.stateDiffers(e.state, next) {
		return
	}
	e.state = next

	if e.unitDepth > 0 {
		e.pending = true
		return
	}

	e.beginTransaction()
	e.notifyChange()
	e.endTransaction()
}

// State returns the current state snapshot. Treat it as immutable.
func (e *Engine) State() any {
	return e.state
}

// Env returns the last input generation. Treat it as immutable.
func (e *Engine) Env() ui.Props {
	return e.env
}

// Log returns the engine's logger, tagged with the controller name.
func (e *Engine) Log() *logging.Logger {
	return e.log
}

// Name returns the controller's diagnostic name.
func (e *Engine) Name() string {
	return e.name
}

// Dispatch invokes a declared action by name, subject to the same
// transaction, re-entrancy, and locking rules as the bound closures in
// Get output. Unknown names log and no-op.
func (e *Engine) Dispatch(name string, args ...any) {
	e.dispatch(name, args)
}

// =============================================================================
// Transaction Machinery
// =============================================================================

// dispatch runs one action invocation through the full protocol.
func (e *Engine) dispatch(name string, args []any) {
	if e.destroyed {
		e.log.Error("action called on destroyed controller", "action", name)
		return
	}
	if e.locks > 0 {
		e.deferred = append(e.deferred, deferredCall{name: name, args: args})
		e.log.Debug("action deferred until release", "action", name, "queued", len(e.deferred))
		return
	}
	act, ok := e.actionDefs[name]
	if !ok {
		e.log.Error("unknown action", "action", name)
		return
	}
	if _, running := e.running[name]; running {
		e.log.Error("re-entrant action dispatch dropped", "action", name)
		return
	}

	e.beginTransaction()
	e.running[name] = struct{}{}
	e.unitDepth++

	act(e, args)

	e.unitDepth--
	delete(e.running, name)
	e.finishUnit()
	e.endTransaction()
}

// beginTransaction opens one bracket level; the 0→1 edge notifies every
// subscriber's OnTransactionStart.
func (e *Engine) beginTransaction() {
	e.txLevel++
	if e.txLevel != 1 {
		return
	}
	for _, l := range e.snapshot() {
		if l.removed || l.sub.OnTransactionStart == nil {
			continue
		}
		l.sub.OnTransactionStart()
	}
}

// endTransaction closes one bracket level; the 1→0 edge notifies every
// subscriber's OnTransactionEnd with a fresh release token and afterwards
// drains any deferred dispatches if nothing holds a lock.
func (e *Engine) endTransaction() {
	if e.txLevel > 1 {
		e.txLevel--
		return
	}
	e.txLevel = 0

	subs := e.snapshot()
	for _, l := range subs {
		if !l.removed && l.sub.OnTransactionEnd != nil {
			e.locks++
		}
	}

	e.notifying = true
	for _, l := range subs {
		if l.removed || l.sub.OnTransactionEnd == nil {
			continue
		}
		l.sub.OnTransactionEnd(e.newReleaseToken())
	}
	e.notifying = false

	e.maybeDrain()
}

// finishUnit delivers the coalesced OnChange for a closing Set/action
// frame. Runs inside the bracket, so subscribers always observe the
// change between start and end.
func (e *Engine) finishUnit() {
	if e.unitDepth != 0 || !e.pending {
		return
	}
	e.pending = false
	e.notifyChange()
}

// notifyChange computes the output once and delivers it to every
// subscriber in order.
func (e *Engine) notifyChange() {
	out := e.Get()
	for _, l := range e.snapshot() {
		if l.removed || l.sub.OnChange == nil {
			continue
		}
		l.sub.OnChange(out)
	}
}

// newReleaseToken returns a once-only token that drops one lock.
func (e *Engine) newReleaseToken() ReleaseFunc {
	used := false
	return func() {
		if used {
			return
		}
		used = true
		e.release()
	}
}

// release drops one lock and drains deferred dispatches when the last
// lock clears.
func (e *Engine) release() {
	if e.locks > 0 {
		e.locks--
	}
	e.maybeDrain()
}

// maybeDrain runs queued deferred dispatches FIFO once the controller is
// idle: no open transaction, no outstanding locks, and not mid way
// through end-of-transaction notification. Each drained dispatch runs the
// full protocol and may issue new locks, which pauses the drain until
// those release.
func (e *Engine) maybeDrain() {
	if e.notifying || e.draining || e.destroyed {
		return
	}
	if e.locks != 0 || e.txLevel != 0 {
		return
	}
	e.draining = true
	for len(e.deferred) > 0 {
		next := e.deferred[0]
		e.deferred = e.deferred[1:]
		e.dispatch(next.name, next.args)
		if e.locks != 0 || e.destroyed {
			break
		}
	}
	e.draining = false
}

// snapshot copies the listener slice so notification loops tolerate
// subscribes and unsubscribes from inside callbacks.
func (e *Engine) snapshot() []*listener {
	out := make([]*listener, len(e.listeners))
	copy(out, e.listeners)
	return out
}

// =============================================================================
// Equality Hooks
// =============================================================================

func (e *Engine) envDiffers(old, new ui.Props) bool {
	if d, ok := e.behavior.(EnvDiffer); ok {
		return d.EnvDiffers(old, new)
	}
	return !reflect.DeepEqual(old, new)
}

func (e *Engine) stateDiffers(old, new any) bool {
	if d, ok := e.behavior.(StateDiffer); ok {
		return d.StateDiffers(old, new)
	}
	return !reflect.DeepEqual(old, new)
}
