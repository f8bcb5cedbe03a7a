// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for parley.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.parley/config.toml
//   - ~/.parley/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete parley configuration.
type Config struct {
	// Backend settings
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Chat settings
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Database settings
	Database DatabaseConfig `toml:"database" json:"database"`

	// Model settings
	Model ModelConfig `toml:"model" json:"model"`
}

// BackendConfig contains backend behavior settings.
type BackendConfig struct {
	// DefaultPreset is activated at startup when set.
	DefaultPreset string `toml:"default_preset" json:"default_preset"`

	// DefaultUser is the username logged in at startup when set.
	DefaultUser string `toml:"default_user" json:"default_user"`

	// PresetDir is the directory holding preset TOML files
	// (empty = ~/.parley/presets).
	PresetDir string `toml:"preset_dir" json:"preset_dir"`

	// WatchPresets reloads presets when files change.
	WatchPresets bool `toml:"watch_presets" json:"watch_presets"`
}

// ChatConfig contains conversation behavior settings.
type ChatConfig struct {
	// DefaultProvider is the provider used when no preset is active.
	DefaultProvider string `toml:"default_provider" json:"default_provider"`

	// SystemMessage is the default system message for new conversations.
	SystemMessage string `toml:"system_message" json:"system_message"`

	// SystemMessageAliases maps short names to full system messages.
	SystemMessageAliases map[string]string `toml:"system_message_aliases" json:"system_message_aliases"`

	// Streaming enables incremental token delivery by default.
	Streaming bool `toml:"streaming" json:"streaming"`

	// TitleGeneration enables async conversation title generation.
	TitleGeneration bool `toml:"title_generation" json:"title_generation"`
}

// DatabaseConfig contains persistence settings.
type DatabaseConfig struct {
	// Path is the SQLite database file (empty = ~/.parley/parley.db).
	Path string `toml:"path" json:"path"`
}

// ModelConfig contains model-level defaults.
type ModelConfig struct {
	// MaxSubmissionTokens overrides the provider's context window when
	// positive.
	MaxSubmissionTokens int `toml:"max_submission_tokens" json:"max_submission_tokens"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultSystemMessage is the system message used when none is
// configured.
const DefaultSystemMessage = "You are a helpful assistant."

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			WatchPresets: true,
		},
		Chat: ChatConfig{
			DefaultProvider: "openai",
			SystemMessage:   DefaultSystemMessage,
			SystemMessageAliases: map[string]string{
				"default": DefaultSystemMessage,
			},
			Streaming:       false,
			TitleGeneration: true,
		},
	}
}

// fillDefaults backfills empty fields with defaults.
func fillDefaults(cfg *Config) {
	if cfg.Chat.DefaultProvider == "" {
		cfg.Chat.DefaultProvider = "openai"
	}
	if cfg.Chat.SystemMessage == "" {
		cfg.Chat.SystemMessage = DefaultSystemMessage
	}
	if cfg.Chat.SystemMessageAliases == nil {
		cfg.Chat.SystemMessageAliases = map[string]string{}
	}
	if _, ok := cfg.Chat.SystemMessageAliases["default"]; !ok {
		cfg.Chat.SystemMessageAliases["default"] = cfg.Chat.SystemMessage
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the parley configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".parley"), nil
}

// DatabasePath resolves the configured or default database path.
func (c *Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "parley.db"), nil
}

// PresetDir resolves the configured or default preset directory.
func (c *Config) PresetDir() (string, error) {
	if c.Backend.PresetDir != "" {
		return c.Backend.PresetDir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "presets"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from the default locations, applies
// environment overrides, and backfills defaults.
func Load() (*Config, error) {
	cfg := Default()

	dir, err := ConfigDir()
	if err == nil {
		tomlPath := filepath.Join(dir, "config.toml")
		jsonPath := filepath.Join(dir, "config.json")
		switch {
		case fileExists(tomlPath):
			if err := loadTOML(cfg, tomlPath); err != nil {
				return nil, err
			}
		case fileExists(jsonPath):
			if err := loadJSON(cfg, jsonPath); err != nil {
				return nil, err
			}
		}
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	return cfg, nil
}

// LoadFromPath reads configuration from an explicit TOML or JSON file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	var err error
	if filepath.Ext(path) == ".json" {
		err = loadJSON(cfg, path)
	} else {
		err = loadTOML(cfg, path)
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	return cfg, nil
}

func loadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func loadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies PARLEY_* environment variables over the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PARLEY_PROVIDER"); v != "" {
		c.Chat.DefaultProvider = v
	}
	if v := os.Getenv("PARLEY_PRESET"); v != "" {
		c.Backend.DefaultPreset = v
	}
	if v := os.Getenv("PARLEY_USER"); v != "" {
		c.Backend.DefaultUser = v
	}
	if v := os.Getenv("PARLEY_DATABASE"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("PARLEY_SYSTEM_MESSAGE"); v != "" {
		c.Chat.SystemMessage = v
	}
	if v := os.Getenv("PARLEY_STREAMING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Chat.Streaming = b
		}
	}
	if v := os.Getenv("PARLEY_TITLE_GENERATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Chat.TitleGeneration = b
		}
	}
	if v := os.Getenv("PARLEY_MAX_SUBMISSION_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Model.MaxSubmissionTokens = n
		}
	}
}

// =============================================================================
// SYSTEM MESSAGE RESOLUTION
// =============================================================================

// ResolveSystemMessage expands a system message alias. Non-alias input
// passes through as a literal system message; empty input resolves to
// the configured default.
func (c *Config) ResolveSystemMessage(nameOrText string) string {
	if nameOrText == "" {
		return c.Chat.SystemMessage
	}
	if full, ok := c.Chat.SystemMessageAliases[nameOrText]; ok {
		return full
	}
	return nameOrText
}

// =============================================================================
// GLOBAL ACCESS
// =============================================================================

var (
	globalMu  sync.RWMutex
	globalCfg *Config
)

// Global returns the process-wide configuration, loading it on first
// use.
func Global() *Config {
	globalMu.RLock()
	if globalCfg != nil {
		defer globalMu.RUnlock()
		return globalCfg
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCfg == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
			fillDefaults(cfg)
		}
		globalCfg = cfg
	}
	return globalCfg
}

// SetGlobal replaces the process-wide configuration. Intended for tests
// and explicit reload paths.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCfg = cfg
}
