// parley - a conversational front-end over multiple LLM backends.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/parley/internal/backend"
	"github.com/jeranaias/parley/internal/cli"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/preset"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/provider/openai"
	"github.com/jeranaias/parley/internal/provider/openrouter"
	"github.com/jeranaias/parley/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	config.SetGlobal(cfg)

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	presetDir, err := cfg.PresetDir()
	if err != nil {
		return err
	}
	presets, err := preset.NewManager(presetDir)
	if err != nil {
		return err
	}
	defer presets.Close()
	if cfg.Backend.WatchPresets {
		if err := presets.Watch(); err != nil {
			fmt.Fprintf(os.Stderr, "parley: preset watching disabled: %v\n", err)
		}
	}

	registry := provider.NewRegistry()
	registry.Register(openai.ProviderName, openai.Factory)
	registry.Register(openrouter.ProviderName, openrouter.Factory)

	b, err := backend.New(backend.Options{
		Config:   cfg,
		Store:    store,
		Registry: registry,
		Presets:  presets,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	// SIGINT is handled inside the shell (it stops an in-flight stream
	// or aborts the prompt); only SIGTERM tears the process down.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	shell := cli.New(b, store, presets)
	if err := shell.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
