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
	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/breadboard/pkg/validation"
)

// saveForm collects snippet metadata before a save. It wraps a huh form
// so validation happens field by field while the user types, not after
// submission.
type saveForm struct {
	form *huh.Form

	name        string
	description string
	confirmed   bool
}

// newSaveForm builds the form, pre-filling the name for re-saves.
func newSaveForm(name string) *saveForm {
	f := &saveForm{name: name}
	f.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Snippet name").
				Description("letters, digits, dots, dashes, underscores").
				Value(&f.name).
				Validate(func(s string) error {
					_, err := validation.SanitizeSnippetName(s)
					return err
				}),
			huh.NewText().
				Title("Description").
				Lines(3).
				CharLimit(400).
				Value(&f.description),
			huh.NewConfirm().
				Title("Save snippet?").
				Affirmative("Save").
				Negative("Cancel").
				Value(&f.confirmed),
		),
	)
	return f
}

// done reports whether the form finished, and whether the user
// confirmed the save.
func (f *saveForm) done() (finished, confirmed bool) {
	switch f.form.State {
	case huh.StateCompleted:
		return true, f.confirmed
	case huh.StateAborted:
		return true, false
	default:
		return false, false
	}
}
