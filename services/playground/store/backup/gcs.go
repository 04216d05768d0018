// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup uploads snippet store snapshots to Google Cloud
// Storage. The snapshot is Badger's own backup stream, written straight
// into a bucket object without a local spool file.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/breadboard/pkg/logging"
)

// defaultPrefix is the object name prefix when none is configured.
const defaultPrefix = "breadboard"

// Source is the backup stream producer; *store.Store satisfies it.
type Source interface {
	Backup(ctx context.Context, w io.Writer) error
}

// Config identifies the destination bucket.
type Config struct {
	// Bucket is the GCS bucket name. Required.
	Bucket string

	// Prefix is the object name prefix. Default: "breadboard".
	Prefix string

	// CredentialsFile is the service account key path. Empty uses
	// application default credentials.
	CredentialsFile string

	// Logger receives upload diagnostics. If nil, the package default
	// logger is used.
	Logger *logging.Logger
}

// Client uploads store snapshots to one bucket.
type Client struct {
	storageClient *storage.Client
	bucket        string
	prefix        string
	log           *logging.Logger
}

// NewClient creates a snapshot uploader.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Client{
		storageClient: storageClient,
		bucket:        cfg.Bucket,
		prefix:        prefix,
		log:           log.With("component", "backup", "bucket", cfg.Bucket),
	}, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}

// Snapshot streams a full backup of src into a timestamped bucket
// object and returns the object name. The object is only visible after
// the writer closes cleanly, so a failed upload never leaves a partial
// snapshot behind.
func (c *Client) Snapshot(ctx context.Context, src Source) (string, error) {
	object := path.Join(c.prefix, time.Now().UTC().Format("20060102T150405Z")+".bak")

	w := c.storageClient.Bucket(c.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if err := src.Backup(ctx, w); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("stream backup to gs://%s/%s: %w", c.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for %s: %w", object, err)
	}

	c.log.Info("store snapshot uploaded", "object", object)
	return object, nil
}
