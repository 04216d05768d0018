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

// Component is the lifecycle contract the runtime expects from anything
// it mounts or wraps.
//
// Lifecycle: Mount is called exactly once before any other method;
// Update delivers each subsequent generation of props; View may be called
// at any time between Mount and Unmount and must be side-effect free;
// Unmount is called exactly once and ends the lifecycle.
//
// Components are not required to be safe for concurrent use. The host
// confines each mounted tree to a single goroutine (see pkg/control's
// concurrency notes).
type Component interface {
	// Mount initializes the component with its scheduler and first props.
	Mount(sched Scheduler, props Props) error

	// Update delivers a new generation of props.
	Update(props Props) error

	// View renders the component's current state.
	View() string

	// Unmount releases resources; the component is dead afterwards.
	Unmount()
}
