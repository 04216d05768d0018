// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// store keys, file paths, or URL routes. Using these validators prevents
// injection attacks (key-prefix forgery, path traversal) and keeps the
// snippet namespace portable across the store and the gallery API.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// snippetNamePattern matches valid snippet names.
// Allows: letters, digits, underscores, then dots and hyphens inside.
// Max length: 64 characters.
var snippetNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._\-]{0,63}$`)

// propKeyPattern matches valid controller prop keys: lower camelCase,
// letters and digits only, starting with a lowercase letter.
var propKeyPattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9]{0,31}$`)

// ValidateSnippetName validates a user-chosen snippet name before it is
// embedded in a store key or a gallery URL.
//
// Valid names:
//   - 1-64 characters
//   - Letters, digits, underscores
//   - Dots (.) and hyphens (-) after the first character
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateSnippetName(name); err != nil {
//	    return fmt.Errorf("invalid snippet name: %w", err)
//	}
//	// Safe to use as a store key suffix
func ValidateSnippetName(name string) error {
	if name == "" {
		return fmt.Errorf("snippet name cannot be empty")
	}

	if !snippetNamePattern.MatchString(name) {
		return fmt.Errorf("invalid snippet name: %q (must be 1-64 letters, digits, underscores, dots, or hyphens, not starting with a dot or hyphen)", name)
	}

	return nil
}

// SanitizeSnippetName normalizes and validates a snippet name. Returns
// the trimmed, lowercase name if valid, or an error if invalid.
//
// Use this at every boundary that accepts a name from a user: the store
// indexes names case-insensitively, so the lowercase form is the one that
// must validate.
func SanitizeSnippetName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateSnippetName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateSnippetID validates a snippet identifier. IDs are UUIDs minted
// by the store; anything else in an ID position is a forged key.
func ValidateSnippetID(id string) error {
	if id == "" {
		return fmt.Errorf("snippet id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid snippet id: %q", id)
	}
	return nil
}

// ValidatePropKey validates a controller prop key declared by host code.
//
// Valid keys are lower camelCase: a lowercase letter followed by up to 31
// letters or digits. Keys travel through resolved prop maps and appear in
// log attributes, so the alphabet is kept deliberately narrow.
func ValidatePropKey(key string) error {
	if key == "" {
		return fmt.Errorf("prop key cannot be empty")
	}

	if !propKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid prop key: %q (must be lower camelCase, 1-32 letters or digits)", key)
	}

	return nil
}

// ValidatePropKeys validates multiple prop keys.
// Returns an error listing all invalid keys if any fail validation.
func ValidatePropKeys(keys []string) error {
	var invalid []string
	for _, k := range keys {
		if err := ValidatePropKey(k); err != nil {
			invalid = append(invalid, k)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid prop keys: %v", invalid)
	}
	return nil
}
