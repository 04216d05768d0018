// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics records gallery usage events to InfluxDB.
//
// The recorder is optional: a zero Config yields a disabled recorder
// whose methods are no-ops, so handlers call it unconditionally.
package analytics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/breadboard/pkg/logging"
)

// Event measurement names.
const (
	EventRender = "snippet_render"
	EventSave   = "snippet_save"
	EventList   = "snippet_list"
	EventDelete = "snippet_delete"
)

// Config connects the recorder to an InfluxDB v2 instance. An empty URL
// disables recording.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Logger receives write failures. If nil, the package default
	// logger is used.
	Logger *logging.Logger
}

// Recorder writes usage points. Failures are logged and dropped; the
// request path never blocks on analytics.
type Recorder struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	log    *logging.Logger
}

// New creates a Recorder. With an empty URL the recorder is disabled
// and never dials out.
func New(cfg Config) *Recorder {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	log = log.With("component", "analytics")

	if cfg.URL == "" {
		return &Recorder{log: log}
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:    log,
	}
}

// Enabled reports whether events are actually written.
func (r *Recorder) Enabled() bool {
	return r.write != nil
}

// Record writes one event point with the given tags. Missing
// configuration makes it a no-op.
func (r *Recorder) Record(ctx context.Context, event string, tags map[string]string) {
	if r.write == nil {
		return
	}
	p := influxdb2.NewPoint(
		event,
		tags,
		map[string]any{"count": 1},
		time.Now(),
	)
	if err := r.write.WritePoint(ctx, p); err != nil {
		r.log.Warn("analytics write failed", "event", event, "error", err)
	}
}

// Close releases the underlying client.
func (r *Recorder) Close() {
	if r.client != nil {
		r.client.Close()
	}
}
