// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/breadboard/services/gallery"
	"github.com/AleutianAI/breadboard/services/playground"
	"github.com/AleutianAI/breadboard/services/playground/config"
)

var (
	rootCmd = &cobra.Command{
		Use:   "breadboard",
		Short: "A live playground for terminal-rendered snippets",
		Long: `Breadboard is a live code playground: edit a snippet, watch it
render in a responsive terminal layout, save it, and share it through
the snippet gallery.`,
		SilenceUsage: true,
	}

	configPath string
	logLevel   string
	logFormat  string

	runCmd = &cobra.Command{
		Use:   "run [file]",
		Short: "Start the interactive playground",
		Long: `Opens the interactive playground, optionally seeded from a snippet
file. With --watch the file is re-evaluated on every save.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRunCommand,
	}
	runWatch bool
	runTheme string
	runStore string

	evalCmd = &cobra.Command{
		Use:   "eval <file>",
		Short: "Render a snippet once and print it to stdout",
		Long: `Evaluates one snippet outside the interactive host and prints its
rendering, which makes Breadboard usable in pipes and CI. Script print
output goes to stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: runEvalCommand,
	}
	evalWidth   int
	evalTimeout time.Duration

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the snippet gallery server",
		RunE:  runServeCommand,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("breadboard %s (commit %s, built %s)\n", version, commit, date)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text, json")

	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Re-evaluate when the file changes on disk")
	runCmd.Flags().StringVar(&runTheme, "theme", "", "Palette: dark, light, mono")
	runCmd.Flags().StringVar(&runStore, "store", "", "Snippet store directory")

	evalCmd.Flags().IntVar(&evalWidth, "width", 80, "Render width in columns")
	evalCmd.Flags().DurationVar(&evalTimeout, "timeout", 0, "Wall-clock budget override")

	rootCmd.AddCommand(runCmd, evalCmd, serveCmd, versionCmd)
}

// loadConfig loads the layered configuration and applies CLI overrides
// on top.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if runStore != "" {
		cfg.Store.Path = runStore
	}
	if runTheme != "" {
		cfg.TUI.Theme = runTheme
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRunCommand(cmd *cobra.Command, args []string) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return errors.New("run needs a terminal; use 'breadboard eval' in pipes")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := playground.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := playground.RunOptions{Watch: runWatch, Theme: runTheme}
	if len(args) > 0 {
		opts.File = args[0]
	}

	ctx, cancel := signalContext()
	defer cancel()
	return svc.Run(ctx, opts)
}

func runEvalCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	svc, err := playground.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	out, err := svc.EvalOnce(ctx, args[0], string(data), evalWidth, evalTimeout,
		func(line string) { fmt.Fprintln(os.Stderr, line) })
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := playground.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	srv := gallery.NewServer(cfg, svc.Store(), svc.Logger())
	return srv.Run(ctx)
}
