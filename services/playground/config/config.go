// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads Breadboard configuration with the priority
// env > file > defaults. The file is YAML (JSON also parses, since YAML
// is a superset for our structs); environment variables use the
// BREADBOARD_ prefix and override individual fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Breadboard configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Log contains logging settings.
	Log LogConfig `json:"log" yaml:"log"`

	// Store contains snippet store settings.
	Store StoreConfig `json:"store" yaml:"store"`

	// Sandbox contains execution budget settings.
	Sandbox SandboxConfig `json:"sandbox" yaml:"sandbox"`

	// Watch contains source watcher settings.
	Watch WatchConfig `json:"watch" yaml:"watch"`

	// TUI contains interactive host settings.
	TUI TUIConfig `json:"tui" yaml:"tui"`

	// Gallery contains gallery service settings.
	Gallery GalleryConfig `json:"gallery" yaml:"gallery"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Dir    string `json:"dir" yaml:"dir"`
	Format string `json:"format" yaml:"format" validate:"oneof=text json"`
}

// StoreConfig contains snippet store settings.
type StoreConfig struct {
	// Path is the Badger directory. Empty selects the in-memory store.
	Path       string        `json:"path" yaml:"path"`
	SyncWrites bool          `json:"sync_writes" yaml:"sync_writes"`
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval" validate:"min=0"`

	// Backup enables GCS snapshots when Bucket is set.
	Backup BackupConfig `json:"backup" yaml:"backup"`
}

// BackupConfig contains GCS snapshot settings. Disabled unless Bucket is
// set.
type BackupConfig struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// SandboxConfig contains execution budget settings.
type SandboxConfig struct {
	MaxSteps uint64        `json:"max_steps" yaml:"max_steps" validate:"min=1"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" validate:"min=1ms"`
}

// WatchConfig contains source watcher settings.
type WatchConfig struct {
	Debounce time.Duration `json:"debounce" yaml:"debounce" validate:"min=1ms"`
}

// TUIConfig contains interactive host settings.
type TUIConfig struct {
	// Theme pins the starting palette; empty means terminal detection.
	Theme string `json:"theme" yaml:"theme" validate:"omitempty,oneof=dark light mono"`

	// ConsoleLines caps the console controller's ring.
	ConsoleLines int `json:"console_lines" yaml:"console_lines" validate:"min=1"`
}

// GalleryConfig contains gallery service settings.
type GalleryConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required"`

	// WriteToken guards mutating endpoints when set. The value is moved
	// into a memguard enclave at startup and never logged.
	WriteToken string `json:"write_token" yaml:"write_token"`

	// RenderRatePerIP and RenderBurst bound the render endpoint.
	RenderRatePerIP float64 `json:"render_rate_per_ip" yaml:"render_rate_per_ip" validate:"gt=0"`
	RenderBurst     int     `json:"render_burst" yaml:"render_burst" validate:"min=1"`

	// RenderMaxSteps is the hard server-side step budget; snippet
	// pragmas cannot raise it.
	RenderMaxSteps uint64 `json:"render_max_steps" yaml:"render_max_steps" validate:"min=1"`

	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics"`
}

// TelemetryConfig contains OTel exporter settings.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name" yaml:"service_name" validate:"required"`
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `json:"otlp_insecure" yaml:"otlp_insecure"`
}

// AnalyticsConfig contains InfluxDB usage-analytics settings. Disabled
// unless URL is set.
type AnalyticsConfig struct {
	URL    string `json:"url" yaml:"url"`
	Token  string `json:"token" yaml:"token"`
	Org    string `json:"org" yaml:"org"`
	Bucket string `json:"bucket" yaml:"bucket"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Sandbox: SandboxConfig{
			MaxSteps: 500_000,
			Timeout:  2 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		TUI: TUIConfig{
			ConsoleLines: 500,
		},
		Gallery: GalleryConfig{
			Addr:            ":8080",
			RenderRatePerIP: 2,
			RenderBurst:     5,
			RenderMaxSteps:  200_000,
			Telemetry: TelemetryConfig{
				ServiceName:    "breadboard-gallery",
				TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", "none"),
				MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", "prometheus"),
				OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
				OTLPInsecure:   true,
			},
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// configPath may be empty, and a missing file is not an error; both fall
// back to defaults plus environment overrides. A file that exists but
// does not parse, or a merged configuration that fails validation, is an
// error.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration's struct tags.
func (c Config) Validate() error {
	return validator.New().Struct(c)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("BREADBOARD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BREADBOARD_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("BREADBOARD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("BREADBOARD_SANDBOX_MAX_STEPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Sandbox.MaxSteps = n
		}
	}
	if v := os.Getenv("BREADBOARD_SANDBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sandbox.Timeout = d
		}
	}
	if v := os.Getenv("BREADBOARD_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.Debounce = d
		}
	}
	if v := os.Getenv("BREADBOARD_THEME"); v != "" {
		cfg.TUI.Theme = v
	}
	if v := os.Getenv("BREADBOARD_GALLERY_ADDR"); v != "" {
		cfg.Gallery.Addr = v
	}
	if v := os.Getenv("BREADBOARD_GALLERY_WRITE_TOKEN"); v != "" {
		cfg.Gallery.WriteToken = v
	}
	if v := os.Getenv("BREADBOARD_GALLERY_RENDER_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Gallery.RenderRatePerIP = f
		}
	}
	if v := os.Getenv("BREADBOARD_BACKUP_BUCKET"); v != "" {
		cfg.Store.Backup.Bucket = v
	}
	if v := os.Getenv("BREADBOARD_BACKUP_CREDENTIALS"); v != "" {
		cfg.Store.Backup.CredentialsFile = v
	}
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		cfg.Gallery.Analytics.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		cfg.Gallery.Analytics.Token = v
	}
	if v := os.Getenv("INFLUXDB_ORG"); v != "" {
		cfg.Gallery.Analytics.Org = v
	}
	if v := os.Getenv("INFLUXDB_BUCKET"); v != "" {
		cfg.Gallery.Analytics.Bucket = v
	}
}

// getEnvOr returns the environment variable value or the fallback.
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
