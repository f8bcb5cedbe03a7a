// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package preset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jeranaias/parley/internal/model"
)

const samplePreset = `
[metadata]
name = "creative"
provider = "openai"
system_message = "You are a creative writer."

[customizations]
model = "gpt-4o"
temperature = 0.9
`

func writePreset(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write preset file: %v", err)
	}
}

func TestLoadAndGet(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "creative.toml", samplePreset)

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	p, err := m.Get("creative")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Metadata.Provider != "openai" {
		t.Errorf("unexpected provider: %s", p.Metadata.Provider)
	}
	if p.Metadata.SystemMessage != "You are a creative writer." {
		t.Errorf("unexpected system message: %q", p.Metadata.SystemMessage)
	}
	if p.Customizations["model"] != "gpt-4o" {
		t.Errorf("unexpected customizations: %v", p.Customizations)
	}

	_, err = m.Get("missing")
	if !errors.Is(err, ErrPresetNotFound) {
		t.Fatalf("expected ErrPresetNotFound, got %v", err)
	}
}

func TestNameDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "terse.toml", "[metadata]\nprovider = \"openai\"\n")

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if _, err := m.Get("terse"); err != nil {
		t.Errorf("expected preset named after file, got %v", err)
	}
}

func TestMalformedFilesSkipped(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "good.toml", "[metadata]\nname = \"good\"\nprovider = \"openai\"\n")
	writePreset(t, dir, "bad.toml", "not toml at all {{{")
	writePreset(t, dir, "noprovider.toml", "[metadata]\nname = \"nope\"\n")

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	names := m.Names()
	if len(names) != 1 || names[0] != "good" {
		t.Errorf("expected only the valid preset, got %v", names)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	p := &model.Preset{
		Metadata: model.PresetMetadata{
			Name:     "precise",
			Provider: "openrouter",
		},
		Customizations: map[string]any{"temperature": 0.1},
	}
	if err := m.Save(p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A fresh manager sees the saved file.
	m2, err := NewManager(dir)
	if err != nil {
		t.Fatalf("second NewManager failed: %v", err)
	}
	defer m2.Close()
	got, err := m2.Get("precise")
	if err != nil {
		t.Fatalf("Get after reload failed: %v", err)
	}
	if got.Metadata.Provider != "openrouter" {
		t.Errorf("unexpected provider after round trip: %s", got.Metadata.Provider)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "gone.toml", "[metadata]\nname = \"gone\"\nprovider = \"openai\"\n")

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if err := m.Delete("gone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get("gone"); !errors.Is(err, ErrPresetNotFound) {
		t.Error("preset should be gone from memory")
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.toml")); !os.IsNotExist(err) {
		t.Error("preset file should be removed")
	}

	if err := m.Delete("never"); !errors.Is(err, ErrPresetNotFound) {
		t.Fatalf("expected ErrPresetNotFound, got %v", err)
	}
}
