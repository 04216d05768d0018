// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command breadboard is the live code playground CLI.
//
// Usage:
//
//	# Interactive playground on a scratch buffer
//	breadboard run
//
//	# Open a file and re-evaluate on every save
//	breadboard run snippet.star --watch
//
//	# One-shot render for pipes and CI
//	breadboard eval snippet.star --width 60
//
//	# Snippet gallery server
//	breadboard serve --config gallery.yaml
package main

import (
	"fmt"
	"os"
)

// Populated by the release build via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
