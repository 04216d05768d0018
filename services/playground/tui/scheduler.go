// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/breadboard/pkg/ui"
)

// applyMsg carries one scheduled binding update into the Bubble Tea
// event loop.
type applyMsg struct {
	update    func()
	committed func()
}

// commitMsg fires the committed callback of an earlier applyMsg. It is
// emitted as a command from the applyMsg handler, so it is processed on
// a later Update pass, after the frame carrying the applied change has
// rendered.
type commitMsg struct {
	committed func()
}

// Scheduler adapts Bubble Tea's message loop to the ui.Scheduler
// contract. Schedule posts an applyMsg; the model runs the update inside
// its Update, and the committed callback arrives as a follow-up message
// once that frame has been drawn. Messages sent through one program keep
// their order, which gives the binding its FIFO guarantee.
type Scheduler struct {
	send func(tea.Msg)
}

var _ ui.Scheduler = (*Scheduler)(nil)

// NewScheduler builds a scheduler posting into send, normally
// (*tea.Program).Send.
func NewScheduler(send func(tea.Msg)) *Scheduler {
	return &Scheduler{send: send}
}

// Schedule implements ui.Scheduler.
func (s *Scheduler) Schedule(update func(), committed func()) {
	s.send(applyMsg{update: update, committed: committed})
}
