// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package playground

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/breadboard/services/playground/config"
	"github.com/AleutianAI/breadboard/services/playground/transform"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = t.TempDir()
	cfg.Store.SyncWrites = false

	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestEvalOnceRenders(t *testing.T) {
	svc := newTestService(t)

	out, err := svc.EvalOnce(context.Background(), "badge",
		"def render(width):\n    return \"-\" * width\n", 8, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "--------", out)
}

func TestEvalOnceCapturesPrints(t *testing.T) {
	svc := newTestService(t)

	var lines []string
	_, err := svc.EvalOnce(context.Background(), "noisy",
		"print(\"working\")\n\ndef render(width):\n    return \"ok\"\n",
		10, 0, func(line string) { lines = append(lines, line) })
	require.NoError(t, err)
	assert.Contains(t, lines, "working")
}

func TestEvalOnceRejectsBrokenSource(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.EvalOnce(context.Background(), "broken",
		"def render(width)\n    return 1\n", 10, 0, nil)
	require.ErrorIs(t, err, transform.ErrSyntax)
}

func TestEvalOnceTimeoutOverride(t *testing.T) {
	svc := newTestService(t)

	start := time.Now()
	_, err := svc.EvalOnce(context.Background(), "spin",
		"while True:\n    pass\n\ndef render(width):\n    return \"never\"\n",
		10, 50*time.Millisecond, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
