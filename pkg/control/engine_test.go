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
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/pkg/ui"
)

// =============================================================================
// Fixtures
// =============================================================================

type counterState struct {
	count int
	step  int
}

// counterBehavior is the reference controller for protocol tests: state is
// a counter advanced by its step, output exposes the count and the label
// from the last input.
type counterBehavior struct{}

func (counterBehavior) Init(e *Engine, input ui.Props) {
	e.SetState(counterState{step: input.Int("step", 1)})
}

func (counterBehavior) Output(env ui.Props, state any) ui.Props {
	st, _ := state.(counterState)
	return ui.Props{
		"count": st.count,
		"label": env.String("label", ""),
	}
}

func (counterBehavior) Actions() map[string]Action {
	return map[string]Action{
		"increment": func(e *Engine, _ []any) {
			st := e.State().(counterState)
			st.count += st.step
			e.SetState(st)
		},
		"incrementThrice": func(e *Engine, _ []any) {
			for i := 0; i < 3; i++ {
				st := e.State().(counterState)
				st.count += st.step
				e.SetState(st)
			}
		},
		"incrementNested": func(e *Engine, _ []any) {
			st := e.State().(counterState)
			st.count += st.step
			e.SetState(st)
			e.Dispatch("increment")
		},
		"recurse": func(e *Engine, _ []any) {
			st := e.State().(counterState)
			st.count += st.step
			e.SetState(st)
			e.Dispatch("recurse")
		},
	}
}

// alwaysDiffers forces both equality hooks to report a difference.
type alwaysDiffers struct{ counterBehavior }

func (alwaysDiffers) EnvDiffers(old, new ui.Props) bool { return true }
func (alwaysDiffers) StateDiffers(old, new any) bool    { return true }

// neverDiffers forces both equality hooks to report sameness.
type neverDiffers struct{ counterBehavior }

func (neverDiffers) EnvDiffers(old, new ui.Props) bool { return false }
func (neverDiffers) StateDiffers(old, new any) bool    { return false }

// widthBehavior reacts to input through EnvWillUpdate, the way mode
// controllers derive state from a viewport dimension.
type widthBehavior struct{}

func (widthBehavior) Init(e *Engine, input ui.Props) {
	e.SetState(input.Int("width", 0) < 100)
}

func (widthBehavior) Output(env ui.Props, state any) ui.Props {
	narrow, _ := state.(bool)
	return ui.Props{"narrow": narrow, "width": env.Int("width", 0)}
}

func (widthBehavior) Actions() map[string]Action { return nil }

func (widthBehavior) EnvWillUpdate(e *Engine, old, new ui.Props) {
	e.SetState(new.Int("width", 0) < 100)
}

// recorder captures the notification stream of one subscriber in order.
// With hold set, release tokens are kept for the test to fire manually
// instead of being released inside OnTransactionEnd.
type recorder struct {
	name    string
	hold    bool
	events  []string
	changes []ui.Props
	tokens  []ReleaseFunc

	// shared, when multiple recorders need one interleaved view
	seq *[]string
}

func (r *recorder) record(event string) {
	r.events = append(r.events, event)
	if r.seq != nil {
		*r.seq = append(*r.seq, r.name+":"+event)
	}
}

func (r *recorder) subscriber() Subscriber {
	return Subscriber{
		OnChange: func(out ui.Props) {
			r.record("change")
			r.changes = append(r.changes, out)
		},
		OnTransactionStart: func() {
			r.record("start")
		},
		OnTransactionEnd: func(release ReleaseFunc) {
			r.record("end")
			if r.hold {
				r.tokens = append(r.tokens, release)
				return
			}
			release()
		},
	}
}

func (r *recorder) releaseAll() {
	tokens := r.tokens
	r.tokens = nil
	for _, release := range tokens {
		release()
	}
}

// captureLogger builds a quiet logger mirroring into a buffer, for tests
// that assert on emitted diagnostics.
func captureLogger() (*logging.Logger, *logging.BufferedExporter) {
	exp := logging.NewBufferedExporter()
	log := logging.New(logging.Config{
		Level:    logging.LevelDebug,
		Quiet:    true,
		Exporter: exp,
	})
	return log, exp
}

// waitForEntry polls the exporter until an entry's message contains
// substr. Export runs on its own goroutine, so assertions must wait.
func waitForEntry(t *testing.T, exp *logging.BufferedExporter, substr string) logging.Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, entry := range exp.Entries() {
			if strings.Contains(entry.Message, substr) {
				return entry
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no log entry containing %q", substr)
	return logging.Entry{}
}

func countEntries(exp *logging.BufferedExporter, substr string) int {
	n := 0
	for _, entry := range exp.Entries() {
		if strings.Contains(entry.Message, substr) {
			n++
		}
	}
	return n
}

func mustInstantiate(t *testing.T, spec any, input ui.Props, opts ...Option) *Handle {
	t.Helper()
	h, err := Instantiate(spec, input, opts...)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return h
}

func eventString(events []string) string {
	return strings.Join(events, " ")
}

// =============================================================================
// Set / Get
// =============================================================================

func TestEngine_GetReflectsSetImmediately(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"label": "first", "step": 2}, WithLogger(logging.Nop()))

	out := h.Get()
	if got := out["label"]; got != "first" {
		t.Errorf("label = %v, want first", got)
	}
	if got := out["count"]; got != 0 {
		t.Errorf("count = %v, want 0", got)
	}

	h.Set(ui.Props{"label": "second", "step": 2})
	if got := h.Get()["label"]; got != "second" {
		t.Errorf("label after Set = %v, want second", got)
	}
}

func TestEngine_SetSameInputBracketsWithoutChange(t *testing.T) {
	input := ui.Props{"label": "same", "step": 1}
	h := mustInstantiate(t, counterBehavior{}, input, WithLogger(logging.Nop()))

	r := &recorder{}
	h.Subscribe(r.subscriber())

	h.Set(ui.Props{"label": "same", "step": 1})
	if got := eventString(r.events); got != "start end" {
		t.Errorf("events = %q, want %q", got, "start end")
	}
	if len(r.changes) != 0 {
		t.Errorf("changes = %d, want 0", len(r.changes))
	}
}

func TestEngine_SetDifferentInputNotifiesOnce(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"label": "a", "step": 1}, WithLogger(logging.Nop()))

	r := &recorder{}
	h.Subscribe(r.subscriber())

	h.Set(ui.Props{"label": "b", "step": 1})
	if got := eventString(r.events); got != "start change end" {
		t.Errorf("events = %q, want %q", got, "start change end")
	}
	if got := r.changes[0]["label"]; got != "b" {
		t.Errorf("change label = %v, want b", got)
	}
}

func TestEngine_EnvWillUpdateCoalescesWithEnvChange(t *testing.T) {
	h := mustInstantiate(t, widthBehavior{}, ui.Props{"width": 200}, WithLogger(logging.Nop()))
	if got := h.Get()["narrow"]; got != false {
		t.Fatalf("initial narrow = %v, want false", got)
	}

	r := &recorder{}
	h.Subscribe(r.subscriber())

	h.Set(ui.Props{"width": 50})
	if got := eventString(r.events); got != "start change end" {
		t.Errorf("events = %q, want %q", got, "start change end")
	}
	if len(r.changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(r.changes))
	}
	if got := r.changes[0]["narrow"]; got != true {
		t.Errorf("narrow = %v, want true", got)
	}
	if got := r.changes[0]["width"]; got != 50 {
		t.Errorf("width = %v, want 50", got)
	}
}

// =============================================================================
// Actions and Coalescing
// =============================================================================

func TestEngine_ThreeSetStatesOneChange(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	r := &recorder{}
	h.Subscribe(r.subscriber())

	h.e.Dispatch("incrementThrice")
	if got := eventString(r.events); got != "start change end" {
		t.Errorf("events = %q, want %q", got, "start change end")
	}
	if len(r.changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(r.changes))
	}
	if got := r.changes[0]["count"]; got != 3 {
		t.Errorf("count in change = %v, want 3 (last state only)", got)
	}
}

func TestEngine_NestedDispatchCoalescesIntoOuterBracket(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	r := &recorder{}
	h.Subscribe(r.subscriber())

	h.e.Dispatch("incrementNested")
	if got := eventString(r.events); got != "start change end" {
		t.Errorf("events = %q, want %q", got, "start change end")
	}
	if got := h.Get()["count"]; got != 2 {
		t.Errorf("count = %v, want 2", got)
	}
}

func TestEngine_SetStateOutsideFrameMicroBrackets(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	r := &recorder{}
	h.Subscribe(r.subscriber())

	h.e.SetState(counterState{count: 9, step: 1})
	if got := eventString(r.events); got != "start change end" {
		t.Errorf("events = %q, want %q", got, "start change end")
	}
	if got := r.changes[0]["count"]; got != 9 {
		t.Errorf("count = %v, want 9", got)
	}
}

func TestEngine_ReentrantActionDropped(t *testing.T) {
	log, exp := captureLogger()
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(log))

	r := &recorder{}
	h.Subscribe(r.subscriber())

	h.e.Dispatch("recurse")

	if got := h.Get()["count"]; got != 1 {
		t.Errorf("count = %v, want 1 (inner dispatch dropped)", got)
	}
	if got := eventString(r.events); got != "start change end" {
		t.Errorf("events = %q, want %q", got, "start change end")
	}
	waitForEntry(t, exp, "re-entrant action dispatch dropped")
}

func TestEngine_UnknownActionLogsAndNoops(t *testing.T) {
	log, exp := captureLogger()
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(log))

	r := &recorder{}
	h.Subscribe(r.subscriber())

	h.e.Dispatch("nope")
	if len(r.events) != 0 {
		t.Errorf("events = %v, want none", r.events)
	}
	waitForEntry(t, exp, "unknown action")
}

func TestEngine_BoundActionsInOutput(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 5}, WithLogger(logging.Nop()))

	out := h.Get()
	fn, ok := ActionFunc(out, "increment")
	if !ok {
		t.Fatal("increment action not in output")
	}
	fn()
	if got := h.Get()["count"]; got != 5 {
		t.Errorf("count = %v, want 5", got)
	}

	if _, ok := ActionFunc(out, "missing"); ok {
		t.Error("ActionFunc found an undeclared action")
	}
}

// =============================================================================
// Equality Hook Overrides
// =============================================================================

func TestEngine_AlwaysDiffersNotifiesEveryCall(t *testing.T) {
	h := mustInstantiate(t, alwaysDiffers{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	r := &recorder{}
	h.Subscribe(r.subscriber())

	same := ui.Props{"step": 1}
	h.Set(same)
	h.Set(same)
	h.e.Dispatch("increment")

	if len(r.changes) != 3 {
		t.Errorf("changes = %d, want 3 (one per call)", len(r.changes))
	}
}

func TestEngine_NeverDiffersNotifiesNothing(t *testing.T) {
	h := mustInstantiate(t, neverDiffers{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	r := &recorder{}
	h.Subscribe(r.subscriber())

	h.Set(ui.Props{"step": 99, "label": "new"})
	h.e.Dispatch("increment")

	if len(r.changes) != 0 {
		t.Errorf("changes = %d, want 0", len(r.changes))
	}
	// Brackets still fire deterministically around the no-ops.
	if got := eventString(r.events); got != "start end start end" {
		t.Errorf("events = %q, want %q", got, "start end start end")
	}
}

// =============================================================================
// Subscription Order and Unsubscribe
// =============================================================================

func TestEngine_NotificationOrderFollowsSubscriptionOrder(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	var seq []string
	a := &recorder{name: "a", seq: &seq}
	b := &recorder{name: "b", seq: &seq}
	h.Subscribe(a.subscriber())
	h.Subscribe(b.subscriber())

	h.e.Dispatch("increment")

	want := "a:start b:start a:change b:change a:end b:end"
	if got := strings.Join(seq, " "); got != want {
		t.Errorf("sequence = %q, want %q", got, want)
	}
}

func TestEngine_UnsubscribeStopsNotifications(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	a := &recorder{}
	unsub := h.Subscribe(a.subscriber())
	h.e.Dispatch("increment")
	unsub()
	unsub() // second call is a no-op
	h.e.Dispatch("increment")

	if got := eventString(a.events); got != "start change end" {
		t.Errorf("events = %q, want only the first bracket", got)
	}
}

func TestEngine_UnsubscribeDuringNotificationSilencesPeer(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	var unsubB UnsubscribeFunc
	a := &recorder{}
	subA := a.subscriber()
	onChangeA := subA.OnChange
	subA.OnChange = func(out ui.Props) {
		onChangeA(out)
		unsubB()
	}
	b := &recorder{}

	h.Subscribe(subA)
	unsubB = h.Subscribe(b.subscriber())

	h.e.Dispatch("increment")

	if got := eventString(b.events); got != "start" {
		t.Errorf("b events = %q, want %q (no change or end after unsubscribe)", got, "start")
	}
}

// =============================================================================
// Release Tokens and Deferred Dispatch
// =============================================================================

func TestEngine_DispatchDeferredWhileTokenHeld(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	r := &recorder{hold: true}
	h.Subscribe(r.subscriber())

	h.e.Dispatch("increment")
	if got := h.Get()["count"]; got != 1 {
		t.Fatalf("count after first dispatch = %v, want 1", got)
	}
	if len(r.tokens) != 1 {
		t.Fatalf("tokens = %d, want 1", len(r.tokens))
	}

	// Token still held: this dispatch must queue, not run.
	h.e.Dispatch("increment")
	if got := h.Get()["count"]; got != 1 {
		t.Errorf("count while locked = %v, want 1", got)
	}

	r.releaseAll()
	if got := h.Get()["count"]; got != 2 {
		t.Errorf("count after release = %v, want 2", got)
	}
	// The drained dispatch ran a full bracket and issued a new token.
	if len(r.tokens) != 1 {
		t.Errorf("tokens after drain = %d, want 1", len(r.tokens))
	}
}

func TestEngine_DeferredDispatchesDrainFIFO(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	r := &recorder{hold: true}
	h.Subscribe(r.subscriber())

	h.e.Dispatch("increment")       // count 1, token held
	h.e.Dispatch("incrementThrice") // deferred
	h.e.Dispatch("increment")       // deferred

	r.releaseAll()
	// First drained dispatch reissues a lock, pausing the drain.
	if got := h.Get()["count"]; got != 4 {
		t.Errorf("count after first drain = %v, want 4", got)
	}
	r.releaseAll()
	if got := h.Get()["count"]; got != 5 {
		t.Errorf("count after second drain = %v, want 5", got)
	}
}

func TestEngine_ReleaseTokenIsOnceOnly(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	r := &recorder{hold: true}
	h.Subscribe(r.subscriber())

	h.e.Dispatch("increment")
	token := r.tokens[0]
	r.tokens = nil
	token()
	token() // double release must not unbalance the lock count

	h.e.Dispatch("increment")
	if got := h.Get()["count"]; got != 2 {
		t.Errorf("count = %v, want 2 (dispatch runs immediately once unlocked)", got)
	}
	if len(r.tokens) != 1 {
		t.Errorf("tokens = %d, want 1", len(r.tokens))
	}
}

func TestEngine_SubscriberWithoutEndHookHoldsNoLock(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	var changes int
	h.Subscribe(Subscriber{OnChange: func(ui.Props) { changes++ }})

	h.e.Dispatch("increment")
	h.e.Dispatch("increment")
	if got := h.Get()["count"]; got != 2 {
		t.Errorf("count = %v, want 2 (no deferral without an end hook)", got)
	}
	if changes != 2 {
		t.Errorf("changes = %d, want 2", changes)
	}
}

// =============================================================================
// Destroy
// =============================================================================

func TestEngine_DestroyedOperationsLogAndNoop(t *testing.T) {
	log, exp := captureLogger()
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"label": "frozen", "step": 1}, WithLogger(log))
	h.e.Dispatch("increment")

	h.Destroy()
	h.Destroy() // idempotent

	h.Set(ui.Props{"label": "after", "step": 1})
	h.e.Dispatch("increment")
	unsub := h.Subscribe(Subscriber{OnChange: func(ui.Props) { t.Error("no notifications after destroy") }})
	unsub()
	h.e.SetState(counterState{count: 99})

	out := h.Get()
	if got := out["count"]; got != 1 {
		t.Errorf("count = %v, want state frozen at 1", got)
	}
	if got := out["label"]; got != "frozen" {
		t.Errorf("label = %v, want env frozen at %q", got, "frozen")
	}

	waitForEntry(t, exp, "set called on destroyed controller")
	waitForEntry(t, exp, "action called on destroyed controller")
	waitForEntry(t, exp, "subscribe called on destroyed controller")
}

func TestEngine_DestroyClearsHeldLocks(t *testing.T) {
	h := mustInstantiate(t, counterBehavior{}, ui.Props{"step": 1}, WithLogger(logging.Nop()))

	r := &recorder{hold: true}
	h.Subscribe(r.subscriber())
	h.e.Dispatch("increment")
	h.e.Dispatch("increment") // deferred behind the held token

	h.Destroy()
	r.releaseAll() // must not resurrect the deferred dispatch

	if got := h.Get()["count"]; got != 1 {
		t.Errorf("count = %v, want 1", got)
	}
}
