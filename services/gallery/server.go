// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gallery serves saved snippets over HTTP: a JSON API for
// listing, saving, and rendering, plus a websocket pushing change
// notifications to connected galleries.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/services/gallery/analytics"
	"github.com/AleutianAI/breadboard/services/gallery/telemetry"
	"github.com/AleutianAI/breadboard/services/playground/config"
	"github.com/AleutianAI/breadboard/services/playground/sandbox"
	"github.com/AleutianAI/breadboard/services/playground/store"
	"github.com/AleutianAI/breadboard/services/playground/store/backup"
)

// Server shutdown and snapshot timing.
const (
	shutdownTimeout  = 10 * time.Second
	snapshotInterval = 6 * time.Hour
)

// Server is the gallery HTTP service.
type Server struct {
	cfg config.Config
	st  *store.Store
	log *logging.Logger

	hub   *Hub
	guard *Guard
}

// NewServer builds the server around an open store.
func NewServer(cfg config.Config, st *store.Store, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	log = log.With("component", "gallery")
	return &Server{
		cfg:   cfg,
		st:    st,
		log:   log,
		hub:   NewHub(log),
		guard: NewGuard(cfg.Gallery.WriteToken),
	}
}

// Run serves until ctx is cancelled, then drains connections and
// shuts telemetry down. The errgroup supervises the HTTP listener, the
// websocket hub, and the periodic store snapshot.
func (s *Server) Run(ctx context.Context) error {
	g := s.cfg.Gallery

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    g.Telemetry.ServiceName,
		ServiceVersion: "1.0.0",
		TraceExporter:  g.Telemetry.TraceExporter,
		MetricExporter: g.Telemetry.MetricExporter,
		OTLPEndpoint:   g.Telemetry.OTLPEndpoint,
		OTLPInsecure:   g.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	recorder := analytics.New(analytics.Config{
		URL:    g.Analytics.URL,
		Token:  g.Analytics.Token,
		Org:    g.Analytics.Org,
		Bucket: g.Analytics.Bucket,
		Logger: s.log,
	})
	defer recorder.Close()
	defer s.guard.Close()

	runner := sandbox.New(sandbox.Config{
		MaxSteps: g.RenderMaxSteps,
		Timeout:  s.cfg.Sandbox.Timeout,
		Logger:   s.log,
	})
	handlers := NewHandlers(s.st, runner, s.hub, recorder, s.log)
	limiter := newIPLimiter(g.RenderRatePerIP, g.RenderBurst)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(g.Telemetry.ServiceName))
	RegisterRoutes(router, handlers, s.hub, s.guard, limiter)

	srv := &http.Server{
		Addr:              g.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.log.Info("gallery listening", "addr", g.Addr, "auth", s.guard.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		err := s.hub.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if s.cfg.Store.Backup.Bucket != "" {
		group.Go(func() error {
			return s.snapshotLoop(gctx)
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		s.log.Info("gallery shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	if terr := shutdownTelemetry(context.Background()); terr != nil {
		s.log.Warn("telemetry shutdown", "error", terr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// snapshotLoop streams periodic store backups to the configured GCS
// bucket. Failures are logged and retried at the next tick.
func (s *Server) snapshotLoop(ctx context.Context) error {
	b := s.cfg.Store.Backup
	client, err := backup.NewClient(ctx, backup.Config{
		Bucket:          b.Bucket,
		Prefix:          b.Prefix,
		CredentialsFile: b.CredentialsFile,
		Logger:          s.log,
	})
	if err != nil {
		return fmt.Errorf("backup client: %w", err)
	}
	defer client.Close()

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			object, err := client.Snapshot(ctx, s.st)
			if err != nil {
				s.log.Warn("store snapshot failed", "error", err)
				continue
			}
			s.log.Info("store snapshot uploaded", "object", object)
		}
	}
}
