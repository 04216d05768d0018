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
	"sync"

	"github.com/AleutianAI/breadboard/pkg/logging"
)

// consumerRef identifies one binding-layer consumer of a controller: the
// binding instance plus the prop key it bound under.
type consumerRef struct {
	bindingID string
	key       string
}

// consumerRegistry tracks which consumer currently owns each controller
// handle. A controller is meant to have at most one active consumer at a
// time; binding the same handle elsewhere is discouraged but not unsafe,
// so a redundant claim produces a one-time warning, never an error.
//
// Entries are removed on unsubscribe, so plain map ownership is enough;
// no weak references needed. This is the only cross-host structure in the
// package, hence the mutex.
type consumerRegistry struct {
	mu     sync.Mutex
	owners map[*Handle]consumerRef
}

var consumers = &consumerRegistry{
	owners: make(map[*Handle]consumerRef),
}

// claim records ref as the consumer of h. When h already has a different
// consumer, the claim is not recorded and a single warning is logged for
// this redundant bind.
func (r *consumerRegistry) claim(h *Handle, ref consumerRef, log *logging.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.owners[h]
	if !ok {
		r.owners[h] = ref
		return
	}
	if cur == ref {
		return
	}
	log.Warn("controller already bound to another consumer",
		"controller", h.Name(),
		"key", ref.key,
		"bound_key", cur.key,
	)
}

// release removes ref's claim on h. Claims held by a different consumer
// (the redundant-bind case) are left untouched.
func (r *consumerRegistry) release(h *Handle, ref consumerRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.owners[h]; ok && cur == ref {
		delete(r.owners, h)
	}
}
