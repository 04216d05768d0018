// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ui fixes the interface boundary between the controller runtime
// and whatever component framework hosts it.
//
// # Overview
//
// The controller runtime (pkg/control) never talks to a concrete UI
// framework. It sees components through three small shapes defined here:
//
//   - Props: the untyped input/output bag components exchange
//   - Component: mount / update / view / unmount lifecycle
//   - Scheduler: "schedule an update, tell me when it has committed"
//
// The interactive terminal host adapts Bubble Tea to these shapes
// (services/playground/tui); tests and the one-shot evaluator use the
// synchronous Serial scheduler.
//
// # Scheduling Contract
//
// Scheduler.Schedule(update, committed) must run update exactly once and
// invoke committed after the effects of update are externally observable
// (for a terminal host: after the next frame renders). Tasks from one
// goroutine run in submission order. The runtime relies on this ordering
// to sequence flushes and release-token delivery; see pkg/control.
//
// # Wrapping
//
// Decorators that wrap a component (the binding layer generates one)
// should implement Wrapper and forward Named, so diagnostics and tooling
// can see through generated layers. ComponentName walks the chain.
package ui
