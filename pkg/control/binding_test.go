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
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// =============================================================================
// Fixtures
// =============================================================================

// probeComponent records its lifecycle calls and every prop generation it
// is handed. onUpdate, when set, runs inside Update for feedback tests.
type probeComponent struct {
	name     string
	view     string
	onUpdate func(ui.Props)

	mounts     int
	mountProps ui.Props
	updates    []ui.Props
	viewCalls  int
	unmounts   int
}

func (c *probeComponent) Mount(sched ui.Scheduler, props ui.Props) error {
	c.mounts++
	c.mountProps = props
	return nil
}

func (c *probeComponent) Update(props ui.Props) error {
	c.updates = append(c.updates, props)
	if c.onUpdate != nil {
		c.onUpdate(props)
	}
	return nil
}

func (c *probeComponent) View() string {
	c.viewCalls++
	return c.view
}

func (c *probeComponent) Unmount() { c.unmounts++ }

func (c *probeComponent) Name() string { return c.name }

// output extracts the controller output the probe saw under key in its
// latest update.
func (c *probeComponent) output(t *testing.T, key string) ui.Props {
	t.Helper()
	if len(c.updates) == 0 {
		t.Fatal("no updates recorded")
	}
	out, ok := c.updates[len(c.updates)-1][key].(ui.Props)
	if !ok {
		t.Fatalf("key %q does not carry a controller output", key)
	}
	return out
}

// recoverErr runs fn and returns the error it panicked with, or nil.
func recoverErr(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var ok bool
		err, ok = r.(error)
		if !ok {
			t.Fatalf("panic value %v (%T) is not an error", r, r)
		}
	}()
	fn()
	return nil
}

func mustBind(t *testing.T, inner ui.Component, keys ...string) *Binding {
	t.Helper()
	b, err := NewBinding(inner, keys, WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("NewBinding: %v", err)
	}
	return b
}

// =============================================================================
// Setup Validation
// =============================================================================

func TestNewBinding_SetupValidation(t *testing.T) {
	probe := &probeComponent{}

	tests := []struct {
		name  string
		inner ui.Component
		keys  []string
		want  error
	}{
		{name: "nil component", inner: nil, keys: []string{"a"}, want: ErrNilComponent},
		{name: "no keys", inner: probe, keys: nil, want: ErrNoKeys},
		{name: "empty key", inner: probe, keys: []string{"a", ""}, want: ErrEmptyKey},
		{name: "duplicate key", inner: probe, keys: []string{"a", "b", "a"}, want: ErrDuplicateKey},
		{name: "reserved key", inner: probe, keys: []string{"a", FlushMarkerKey}, want: ErrReservedKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBinding(tt.inner, tt.keys, WithLogger(logging.Nop()))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if b != nil {
				t.Errorf("binding = %v, want nil", b)
			}
		})
	}
}

func TestControlled_UsesDefaultKey(t *testing.T) {
	probe := &probeComponent{}
	b, err := Controlled(probe, WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("Controlled: %v", err)
	}

	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	if err := b.Mount(ui.Serial{}, ui.Props{DefaultKey: h}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	if _, ok := b.entries[DefaultKey]; !ok {
		t.Errorf("default key not bound")
	}
}

// =============================================================================
// Mount
// =============================================================================

func TestBinding_MountResolvesControllerOutputs(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, ui.Props{"counter": h, "title": "host", "label": "from-host"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	if probe.mounts != 1 {
		t.Fatalf("mounts = %d, want 1", probe.mounts)
	}

	out, ok := probe.mountProps["counter"].(ui.Props)
	if !ok {
		t.Fatal("counter key does not carry the controller output")
	}
	if got := out["count"]; got != 0 {
		t.Errorf("count = %v, want 0", got)
	}
	// The full host prop set was fed into the controller before Get.
	if got := out["label"]; got != "from-host" {
		t.Errorf("label = %v, want from-host", got)
	}
	if got := probe.mountProps["title"]; got != "host" {
		t.Errorf("title = %v, want host", got)
	}
	if got := probe.mountProps[FlushMarkerKey]; got != uint64(0) {
		t.Errorf("flush marker = %v, want 0", got)
	}
	// The initial feed happens before subscription: nothing scheduled.
	if got := sched.Pending(); got != 0 {
		t.Errorf("pending tasks after mount = %d, want 0", got)
	}
}

func TestBinding_KeysWithoutControllersAreSkipped(t *testing.T) {
	probe := &probeComponent{}
	b := mustBind(t, probe, "counter")

	if err := b.Mount(&ui.Manual{}, ui.Props{"counter": "not a controller"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	if _, ok := b.entries["counter"]; ok {
		t.Error("non-controller value was bound")
	}
	if got := probe.mountProps["counter"]; got != "not a controller" {
		t.Errorf("counter = %v, want the raw host value", got)
	}
}

// =============================================================================
// Flush Coalescing
// =============================================================================

func TestBinding_ActionProducesOneScheduledFlush(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, ui.Props{"counter": h}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	h.e.Dispatch("incrementThrice")

	if got := sched.Pending(); got != 1 {
		t.Fatalf("pending tasks = %d, want 1", got)
	}
	if len(probe.updates) != 0 {
		t.Fatalf("updates before step = %d, want 0", len(probe.updates))
	}

	sched.Step()

	if len(probe.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(probe.updates))
	}
	if got := probe.output(t, "counter")["count"]; got != 3 {
		t.Errorf("count = %v, want 3", got)
	}
	if got := probe.updates[0][FlushMarkerKey]; got != uint64(1) {
		t.Errorf("flush marker = %v, want 1", got)
	}
}

func TestBinding_OverlappingTransactionsCoalesceToOneFlush(t *testing.T) {
	hA := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()), WithName("a"))
	hB := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()), WithName("b"))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "a", "b")
	if err := b.Mount(sched, ui.Props{"a": hA, "b": hB}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	// Interleave: A starts, B starts, A ends, B ends. Each SetState runs
	// inside the manually opened outer bracket, so its micro-transaction
	// nests and the binding sees one change per controller.
	hA.e.beginTransaction()
	hB.e.beginTransaction()
	hA.e.SetState(counterState{count: 10, step: 1})
	hB.e.SetState(counterState{count: 20, step: 1})
	hA.e.endTransaction()

	if got := sched.Pending(); got != 0 {
		t.Fatalf("pending tasks before last end = %d, want 0", got)
	}

	hB.e.endTransaction()

	if got := sched.Pending(); got != 1 {
		t.Fatalf("pending tasks = %d, want 1", got)
	}
	sched.Step()

	if len(probe.updates) != 1 {
		t.Fatalf("updates = %d, want 1 coalesced flush", len(probe.updates))
	}
	last := probe.updates[0]
	if got := last["a"].(ui.Props)["count"]; got != 10 {
		t.Errorf("a.count = %v, want 10", got)
	}
	if got := last["b"].(ui.Props)["count"]; got != 20 {
		t.Errorf("b.count = %v, want 20", got)
	}
}

func TestBinding_SecondWaveWaitsForCommit(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, ui.Props{"counter": h}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	h.e.Dispatch("increment")
	// The binding holds the release token until the flush commits, so
	// this dispatch is deferred inside the engine.
	h.e.Dispatch("increment")

	if got := h.Get()["count"]; got != 1 {
		t.Fatalf("count before commit = %v, want 1", got)
	}

	sched.Step() // flush 1 commits, token releases, deferred dispatch runs
	if got := sched.Pending(); got != 1 {
		t.Fatalf("pending tasks after first commit = %d, want 1", got)
	}
	sched.Step()

	if len(probe.updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(probe.updates))
	}
	if got := probe.updates[0]["counter"].(ui.Props)["count"]; got != 1 {
		t.Errorf("first flush count = %v, want 1", got)
	}
	if got := probe.updates[1]["counter"].(ui.Props)["count"]; got != 2 {
		t.Errorf("second flush count = %v, want 2", got)
	}
	if got := probe.updates[1][FlushMarkerKey]; got != uint64(2) {
		t.Errorf("second flush marker = %v, want 2", got)
	}
}

func TestBinding_VacuousTransactionReleasesImmediately(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, ui.Props{"counter": h}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	h.Set(h.e.Env())

	if got := sched.Pending(); got != 0 {
		t.Errorf("pending tasks = %d, want 0 for a no-change transaction", got)
	}
	if got := h.e.locks; got != 0 {
		t.Errorf("engine locks = %d, want 0 (token released without a flush)", got)
	}
	if got := len(b.unlocks); got != 0 {
		t.Errorf("queued tokens = %d, want 0", got)
	}
}

// =============================================================================
// Protocol Violations
// =============================================================================

func TestBinding_ChangeOutsideTransactionPanics(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(&ui.Manual{}, ui.Props{"counter": h}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	err := recoverErr(t, func() {
		b.onChange("counter", ui.Props{"count": 99})
	})
	if !errors.Is(err, ErrChangeOutsideTransaction) {
		t.Errorf("panic = %v, want ErrChangeOutsideTransaction", err)
	}
}

func TestBinding_ChangeDuringFlushPanics(t *testing.T) {
	hMain := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()), WithName("main"))
	hOther := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()), WithName("other"))
	sched := &ui.Manual{}

	// The component reacts to one controller's flushed output by driving
	// a second controller synchronously: the feedback loop the protocol
	// forbids. (Re-driving the same controller is absorbed earlier, by
	// its own release-token deferral.)
	probe := &probeComponent{}
	probe.onUpdate = func(ui.Props) {
		hOther.e.Dispatch("increment")
	}

	b := mustBind(t, probe, "main", "other")
	if err := b.Mount(sched, ui.Props{"main": hMain, "other": hOther}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	hMain.e.Dispatch("increment")

	err := recoverErr(t, func() { sched.Step() })
	if !errors.Is(err, ErrChangeDuringFlush) {
		t.Errorf("panic = %v, want ErrChangeDuringFlush", err)
	}
}

// =============================================================================
// Update Paths
// =============================================================================

func TestBinding_UpdateForwardsHostPropsDirectly(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	props := ui.Props{"counter": h, "title": "v1"}
	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, props); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	// Identical input: the controller's equality hook reports no change,
	// so no flush is scheduled and the host update flows through inline.
	if err := b.Update(props); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := sched.Pending(); got != 0 {
		t.Fatalf("pending tasks = %d, want 0", got)
	}
	if len(probe.updates) != 1 {
		t.Fatalf("updates = %d, want 1 direct update", len(probe.updates))
	}
	if got := probe.updates[0]["title"]; got != "v1" {
		t.Errorf("title = %v, want v1", got)
	}
}

func TestBinding_UpdateWithChangedPropsFlushesOnce(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, ui.Props{"counter": h, "label": "v1"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	// Changed input feeds the controller, whose change schedules a flush;
	// the direct update path must stand down so the host sees exactly one
	// generation.
	if err := b.Update(ui.Props{"counter": h, "label": "v2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(probe.updates) != 0 {
		t.Fatalf("direct updates = %d, want 0 when a flush is scheduled", len(probe.updates))
	}
	if got := sched.Pending(); got != 1 {
		t.Fatalf("pending tasks = %d, want 1", got)
	}

	sched.Step()
	if len(probe.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(probe.updates))
	}
	if got := probe.output(t, "counter")["label"]; got != "v2" {
		t.Errorf("label = %v, want v2", got)
	}
}

func TestBinding_RebindOnIdentityChange(t *testing.T) {
	hA := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	hB := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, ui.Props{"counter": hA}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	if err := b.Update(ui.Props{"counter": hB}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	sched.Drain()
	probe.updates = nil

	hA.e.Dispatch("increment")
	if got := sched.Pending(); got != 0 {
		t.Errorf("old controller still drives flushes: pending = %d", got)
	}

	hB.e.Dispatch("increment")
	if got := sched.Pending(); got != 1 {
		t.Errorf("new controller not bound: pending = %d, want 1", got)
	}
}

func TestBinding_KeyRemovalUnbinds(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, ui.Props{"counter": h}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	if err := b.Update(ui.Props{"title": "bare"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, ok := b.entries["counter"]; ok {
		t.Error("entry survived key removal")
	}
	if _, ok := probe.updates[len(probe.updates)-1]["counter"]; ok {
		t.Error("removed key still present in resolved props")
	}

	h.e.Dispatch("increment")
	if got := sched.Pending(); got != 0 {
		t.Errorf("unbound controller still drives flushes: pending = %d", got)
	}
}

// =============================================================================
// Duplicate Consumers
// =============================================================================

func TestBinding_DuplicateConsumerWarnsOncePerBind(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	sched := &ui.Manual{}

	first := mustBind(t, &probeComponent{}, "a")
	if err := first.Mount(sched, ui.Props{"a": h}); err != nil {
		t.Fatalf("Mount first: %v", err)
	}
	defer first.Unmount()

	log, exp := captureLogger()
	second, err := NewBinding(&probeComponent{}, []string{"b"}, WithLogger(log))
	if err != nil {
		t.Fatalf("NewBinding: %v", err)
	}
	if err := second.Mount(sched, ui.Props{"b": h}); err != nil {
		t.Fatalf("Mount second: %v", err)
	}
	defer second.Unmount()

	waitForEntry(t, exp, "already bound")

	// Notifications keep flowing to both consumers without repeating the
	// diagnostic.
	h.e.Dispatch("increment")
	sched.Drain()
	time.Sleep(50 * time.Millisecond)

	if got := countEntries(exp, "already bound"); got != 1 {
		t.Errorf("duplicate-binding warnings = %d, want 1", got)
	}
}

// =============================================================================
// View and Teardown
// =============================================================================

func TestBinding_ViewSuppressedMidTransaction(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{view: "v1"}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, ui.Props{"counter": h}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer b.Unmount()

	if got := b.View(); got != "v1" {
		t.Fatalf("View = %q, want v1", got)
	}

	h.e.beginTransaction()
	probe.view = "v2"
	if got := b.View(); got != "v1" {
		t.Errorf("View mid-transaction = %q, want cached v1", got)
	}
	if probe.viewCalls != 1 {
		t.Errorf("inner View calls = %d, want 1", probe.viewCalls)
	}
	h.e.endTransaction()
	sched.Drain()

	if got := b.View(); got != "v2" {
		t.Errorf("View after transaction = %q, want v2", got)
	}
}

func TestBinding_UnmountUnsubscribesEverything(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, nil, WithLogger(logging.Nop()))
	probe := &probeComponent{}
	sched := &ui.Manual{}

	b := mustBind(t, probe, "counter")
	if err := b.Mount(sched, ui.Props{"counter": h}); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	b.Unmount()
	if probe.unmounts != 1 {
		t.Errorf("unmounts = %d, want 1", probe.unmounts)
	}

	h.e.Dispatch("increment")
	if got := sched.Pending(); got != 0 {
		t.Errorf("unmounted binding still schedules flushes: pending = %d", got)
	}
}

func TestBinding_NameAndUnwrap(t *testing.T) {
	probe := &probeComponent{name: "editor"}
	b := mustBind(t, probe, "counter")

	if got := b.Name(); got != "Controlled(editor)" {
		t.Errorf("Name = %q, want Controlled(editor)", got)
	}
	if got := ui.Unwrap(b); got != ui.Component(probe) {
		t.Errorf("Unwrap = %v, want the inner component", got)
	}
	if got := ui.ComponentName(b); got != "Controlled(editor)" {
		t.Errorf("ComponentName = %q, want Controlled(editor)", got)
	}
}
