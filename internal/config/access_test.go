// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"testing"
)

func TestGetByDotKey(t *testing.T) {
	cfg := Default()
	fillDefaults(cfg)

	got, err := cfg.Get("chat.default_provider")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "openai" {
		t.Errorf("unexpected value: %v", got)
	}

	if _, err := cfg.Get("chat.no_such_field"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := cfg.Get("chat.default_provider.deeper"); err == nil {
		t.Error("expected error for over-deep key")
	}
}

func TestSetByDotKey(t *testing.T) {
	cfg := Default()
	fillDefaults(cfg)

	if err := cfg.Set("chat.default_provider", "openrouter"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if cfg.Chat.DefaultProvider != "openrouter" {
		t.Error("string set not applied")
	}

	// String inputs convert to the field type.
	if err := cfg.Set("chat.streaming", "true"); err != nil {
		t.Fatalf("Set bool failed: %v", err)
	}
	if !cfg.Chat.Streaming {
		t.Error("bool conversion not applied")
	}
	if err := cfg.Set("model.max_submission_tokens", "4096"); err != nil {
		t.Fatalf("Set int failed: %v", err)
	}
	if cfg.Model.MaxSubmissionTokens != 4096 {
		t.Error("int conversion not applied")
	}

	if err := cfg.Set("chat.streaming", "maybe"); err == nil {
		t.Error("expected error for bad boolean")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.Chat.DefaultProvider = ""
	cfg.Model.MaxSubmissionTokens = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	var errs ValidateErrors
	if !errors.As(err, &errs) {
		t.Fatalf("expected ValidateErrors, got %T", err)
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d", len(errs))
	}
}
