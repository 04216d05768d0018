// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ui

// Scheduler is the host framework's deferred-update primitive: schedule
// an update, invoke a callback once the update has committed.
//
// Implementations must run update exactly once, invoke committed after
// update's effects are observable, and preserve submission order for
// tasks scheduled from the same goroutine. Either function may be nil.
type Scheduler interface {
	Schedule(update func(), committed func())
}

// Serial is the synchronous Scheduler: update and committed run inline,
// in order, before Schedule returns. Used by tests and the one-shot
// evaluator, where there is no frame loop to wait for.
type Serial struct{}

// Schedule runs update then committed immediately.
func (Serial) Schedule(update func(), committed func()) {
	if update != nil {
		update()
	}
	if committed != nil {
		committed()
	}
}

var _ Scheduler = Serial{}

// Manual queues scheduled tasks for explicit stepping. Tests use it to
// observe the window between an update running and its commit callback,
// which Serial collapses.
//
// Not safe for concurrent use; it exists for single-goroutine tests.
type Manual struct {
	queue []manualTask
}

type manualTask struct {
	update    func()
	committed func()
}

// Schedule enqueues the task without running it.
func (m *Manual) Schedule(update func(), committed func()) {
	m.queue = append(m.queue, manualTask{update: update, committed: committed})
}

// Pending reports how many scheduled tasks have not been stepped yet.
func (m *Manual) Pending() int {
	return len(m.queue)
}

// Step runs the oldest queued task (update, then committed) and reports
// whether there was one to run.
func (m *Manual) Step() bool {
	if len(m.queue) == 0 {
		return false
	}
	task := m.queue[0]
	m.queue = m.queue[1:]
	if task.update != nil {
		task.update()
	}
	if task.committed != nil {
		task.committed()
	}
	return true
}

// Drain steps until the queue is empty, including tasks enqueued by the
// tasks themselves, and returns how many ran.
func (m *Manual) Drain() int {
	n := 0
	for m.Step() {
		n++
	}
	return n
}

var _ Scheduler = (*Manual)(nil)
