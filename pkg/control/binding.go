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

	"github.com/google/uuid"

	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// =============================================================================
// Binding
// =============================================================================

// bindingEntry is the per-key record for one bound controller.
type bindingEntry struct {
	ctrl  *Handle
	unsub UnsubscribeFunc
	last  ui.Props
}

// Binding wraps a component and wires controllers carried in its props into
// its inputs. For every declared key whose prop slot holds a live controller
// handle, the binding feeds the host's full prop set into that controller,
// captures its output, and subscribes to its change stream. The wrapped
// component never sees a controller handle: it receives the controller's
// output under the same key, refreshed by coalesced flushes.
//
// The binding keeps a transaction ledger across all bound controllers:
//
//   - txLevel counts open transactions summed over every controller.
//   - flushLevel counts in-flight flushes, plus one for each transaction
//     that opened while a flush was in flight, so that such a transaction
//     is not considered settled until the flush itself unwinds.
//   - changed records whether any output arrived since the last flush.
//   - unlocks queues release tokens from closed transactions until the
//     host has committed the flush those transactions produced.
//
// While txLevel is above zero the binding only records outputs. When the
// last transaction closes with changes recorded, it schedules exactly one
// update of the wrapped component with the combined outputs, and releases
// the queued tokens after that update commits. A change emitted with no
// open transaction, or while a flush is propagating, is a protocol
// violation and panics; the second case is the guard against a component
// feeding its own flushed output back into a controller forever.
//
// A Binding is single-goroutine. It implements ui.Component and is mounted,
// updated, and unmounted by the host exactly like the component it wraps.
type Binding struct {
	id    string
	log   *logging.Logger
	inner ui.Component
	keys  []string

	sched   ui.Scheduler
	props   ui.Props
	entries map[string]*bindingEntry

	txLevel    int
	flushLevel int
	changed    bool
	unlocks    []ReleaseFunc
	seq        uint64

	view    string
	mounted bool
}

var (
	_ ui.Component = (*Binding)(nil)
	_ ui.Named     = (*Binding)(nil)
	_ ui.Wrapper   = (*Binding)(nil)
)

// Controlled wraps inner with a binding over the single default controller
// key. It is the common single-controller form of NewBinding.
func Controlled(inner ui.Component, opts ...Option) (*Binding, error) {
	return NewBinding(inner, []string{DefaultKey}, opts...)
}

// ControlledBy wraps inner with a binding over the given controller keys.
func ControlledBy(inner ui.Component, keys ...string) (*Binding, error) {
	return NewBinding(inner, keys)
}

// NewBinding validates the declared keys and builds the binding. All key
// validation happens here, before any controller is touched: an empty,
// duplicate, or reserved key is a configuration error, not a runtime one.
func NewBinding(inner ui.Component, keys []string, opts ...Option) (*Binding, error) {
	if inner == nil {
		return nil, ErrNilComponent
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			return nil, ErrEmptyKey
		}
		if key == FlushMarkerKey {
			return nil, NewKeyError(key, ErrReservedKey)
		}
		if _, dup := seen[key]; dup {
			return nil, NewKeyError(key, ErrDuplicateKey)
		}
		seen[key] = struct{}{}
	}

	o := buildOptions(opts)
	id := uuid.NewString()
	return &Binding{
		id:      id,
		log:     o.log.With("binding", id[:8], "component", ui.ComponentName(inner)),
		inner:   inner,
		keys:    append([]string(nil), keys...),
		entries: make(map[string]*bindingEntry, len(keys)),
	}, nil
}

// Name reports the wrapped component's name under the binding's prefix.
func (b *Binding) Name() string {
	return "Controlled(" + ui.ComponentName(b.inner) + ")"
}

// Unwrap exposes the wrapped component.
func (b *Binding) Unwrap() ui.Component { return b.inner }

// =============================================================================
// Lifecycle
// =============================================================================

// Mount binds every declared key whose prop slot carries a controller, then
// mounts the wrapped component with the resolved props. Keys whose slots are
// empty or hold a non-controller value are skipped; the injector is the
// usual way to guarantee they are filled.
func (b *Binding) Mount(sched ui.Scheduler, props ui.Props) error {
	if b.mounted {
		b.log.Warn("mount on an already-mounted binding")
		for _, key := range b.keys {
			b.unbind(key)
		}
	}
	if sched == nil {
		sched = ui.Serial{}
	}
	b.sched = sched
	b.props = props.Clone()
	for _, key := range b.keys {
		if v, ok := b.props[key]; ok && IsController(v) {
			b.bind(key, v.(*Handle))
		}
	}
	b.mounted = true
	return b.inner.Mount(sched, b.resolved())
}

// Update diffs the declared keys against the new props. A key that gained a
// controller is bound, one that lost its controller is unbound, and one
// whose controller changed identity is rebound. A key whose controller is
// unchanged takes the steady-state path: the new props are forwarded into
// the existing controller's Set, and any resulting change arrives through
// the usual flush. The wrapped component is updated directly only when no
// flush was scheduled by that forwarding, so it never observes the same
// generation twice.
func (b *Binding) Update(props ui.Props) error {
	b.props = props.Clone()
	seq0 := b.seq
	for _, key := range b.keys {
		v, present := b.props[key]
		isCtrl := present && IsController(v)
		ent := b.entries[key]
		switch {
		case ent == nil && isCtrl:
			b.bind(key, v.(*Handle))
		case ent != nil && !isCtrl:
			b.unbind(key)
		case ent != nil && isCtrl && v.(*Handle) != ent.ctrl:
			b.unbind(key)
			b.bind(key, v.(*Handle))
		case ent != nil:
			ent.ctrl.Set(b.props)
		}
	}
	if b.seq == seq0 && b.txLevel == 0 && b.flushLevel == 0 {
		return b.inner.Update(b.resolved())
	}
	return nil
}

// View renders the wrapped component. While any transaction is open the
// cached render is returned instead: intermediate states are not meant to
// be observed.
func (b *Binding) View() string {
	if b.txLevel != 0 {
		return b.view
	}
	b.view = b.inner.View()
	return b.view
}

// Unmount releases every subscription and unmounts the wrapped component.
func (b *Binding) Unmount() {
	for _, key := range b.keys {
		b.unbind(key)
	}
	b.mounted = false
	b.inner.Unmount()
}

// =============================================================================
// Key binding
// =============================================================================

// bind feeds the host props into the controller, captures its initial
// output, claims it for this key, and subscribes to its change stream. Set
// runs before Subscribe so the initial feed never produces a flush.
func (b *Binding) bind(key string, h *Handle) {
	h.Set(b.props)
	ent := &bindingEntry{ctrl: h, last: h.Get()}
	b.entries[key] = ent
	consumers.claim(h, consumerRef{bindingID: b.id, key: key}, b.log)
	ent.unsub = h.Subscribe(Subscriber{
		OnChange:           func(out ui.Props) { b.onChange(key, out) },
		OnTransactionStart: b.onTransactionStart,
		OnTransactionEnd:   b.onTransactionEnd,
	})
}

// unbind drops the subscription and the cached output for key, if bound.
func (b *Binding) unbind(key string) {
	ent, ok := b.entries[key]
	if !ok {
		return
	}
	if ent.unsub != nil {
		ent.unsub()
	}
	consumers.release(ent.ctrl, consumerRef{bindingID: b.id, key: key})
	delete(b.entries, key)
}

// =============================================================================
// Transaction ledger
// =============================================================================

func (b *Binding) onTransactionStart() {
	b.txLevel++
	if b.flushLevel > 0 {
		b.flushLevel++
	}
}

func (b *Binding) onChange(key string, out ui.Props) {
	if b.txLevel == 0 {
		panic(fmt.Errorf("%w: controller under key %q", ErrChangeOutsideTransaction, key))
	}
	if b.flushLevel != 0 {
		panic(fmt.Errorf("%w: controller under key %q", ErrChangeDuringFlush, key))
	}
	if ent, ok := b.entries[key]; ok {
		ent.last = out
	}
	b.changed = true
}

func (b *Binding) onTransactionEnd(release ReleaseFunc) {
	if b.flushLevel > 0 {
		b.flushLevel--
	}
	b.unlocks = append(b.unlocks, release)
	b.txLevel--
	if b.txLevel > 0 {
		return
	}
	if b.changed {
		b.scheduleFlush()
		return
	}
	// A batch that closed without changes holds no flush to wait for. If a
	// flush is still in flight the tokens stay queued for its commit.
	if b.flushLevel == 0 {
		b.drainUnlocks()
	}
}

// scheduleFlush hands the host scheduler one coalesced update carrying the
// combined controller outputs, and releases the queued tokens once the host
// reports the update committed.
func (b *Binding) scheduleFlush() {
	b.flushLevel++
	b.changed = false
	b.seq++
	b.sched.Schedule(
		func() {
			if err := b.inner.Update(b.resolved()); err != nil {
				b.log.Error("flush update failed", "error", err)
			}
		},
		func() {
			b.flushLevel--
			b.drainUnlocks()
		},
	)
}

// drainUnlocks invokes the queued release tokens in FIFO order. The queue
// is detached first: a token may synchronously trigger deferred action
// dispatch and start a fresh batch, whose tokens belong to the next drain.
func (b *Binding) drainUnlocks() {
	queued := b.unlocks
	b.unlocks = nil
	for _, release := range queued {
		if release != nil {
			release()
		}
	}
}

// =============================================================================
// Resolved props
// =============================================================================

// resolved builds the prop set the wrapped component sees: the host props
// with every bound key's handle replaced by that controller's latest
// output, plus the flush marker carrying the flush generation.
func (b *Binding) resolved() ui.Props {
	out := b.props.Clone()
	for key, ent := range b.entries {
		out[key] = ent.last
	}
	out[FlushMarkerKey] = b.seq
	return out
}
