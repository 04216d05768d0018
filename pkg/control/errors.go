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
	"fmt"
)

// Sentinel errors for the control package.
//
// Configuration errors are returned from setup calls (Instantiate,
// NewBinding and friends). The two protocol sentinels are the only errors
// this package ever panics with, and only from the binding layer when a
// controller emits a change where the protocol forbids one.
var (
	// ErrNotController is returned when a value passed to Instantiate or
	// an Injector does not satisfy the Behavior contract.
	ErrNotController = errors.New("value does not implement control.Behavior")

	// ErrNilAction is returned when a behavior declares an action with a
	// nil function.
	ErrNilAction = errors.New("action function must not be nil")

	// ErrNilComponent is returned when a binding is constructed around a
	// nil inner component.
	ErrNilComponent = errors.New("inner component must not be nil")

	// ErrNoKeys is returned when a binding declares no controller keys.
	ErrNoKeys = errors.New("binding declares no controller keys")

	// ErrEmptyKey is returned when a binding declares an empty key.
	ErrEmptyKey = errors.New("controller key must not be empty")

	// ErrDuplicateKey is returned when a binding declares the same key
	// twice.
	ErrDuplicateKey = errors.New("controller key declared twice")

	// ErrReservedKey is returned when the flush-marker key is declared as
	// a controller key.
	ErrReservedKey = errors.New("key is reserved for the flush marker")

	// ErrChangeOutsideTransaction is panicked when a controller emits a
	// change with no transaction open. A change must always be bracketed
	// by OnTransactionStart/OnTransactionEnd.
	ErrChangeOutsideTransaction = errors.New("controller change emitted outside an open transaction")

	// ErrChangeDuringFlush is panicked when a controller emits a change
	// while the binding layer is propagating a flush to the host. Allowing
	// it would let a controller's output be driven by the processing of
	// its own output, which is an infinite feedback loop.
	ErrChangeDuringFlush = errors.New("controller change emitted during flush")
)

// KeyError wraps an error with the controller key it occurred on.
type KeyError struct {
	Key string
	Err error
}

// Error returns the error message.
func (e *KeyError) Error() string {
	return fmt.Sprintf("controller key %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *KeyError) Unwrap() error {
	return e.Err
}

// NewKeyError creates a KeyError.
func NewKeyError(key string, err error) *KeyError {
	return &KeyError{
		Key: key,
		Err: err,
	}
}
