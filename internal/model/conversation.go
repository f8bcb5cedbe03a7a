// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is a persisted conversation record. Messages are stored
// separately and fetched ordered by creation time.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id,omitempty"` // 0 = anonymous/ephemeral
	Title     string    `json:"title,omitempty"`   // empty until generated
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Preset    string    `json:"preset,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a conversation record with a generated ID.
func NewConversation(userID int64, title, providerName, modelName, preset string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        NewID("conv"),
		UserID:    userID,
		Title:     title,
		Provider:  providerName,
		Model:     modelName,
		Preset:    preset,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasTitle reports whether a title has been set or generated.
func (c *Conversation) HasTitle() bool {
	return strings.TrimSpace(c.Title) != ""
}

// =============================================================================
// USER
// =============================================================================

// User is a persisted user record. A conversation may belong to a user;
// exchanges without a current user are returned but never persisted.
type User struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email,omitempty"`
	DefaultPreset string    `json:"default_preset,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// =============================================================================
// PRESET
// =============================================================================

// PresetMetadata describes a preset independent of provider options.
type PresetMetadata struct {
	Name          string `toml:"name" json:"name"`
	Provider      string `toml:"provider" json:"provider"`
	SystemMessage string `toml:"system_message,omitempty" json:"system_message,omitempty"`
	Description   string `toml:"description,omitempty" json:"description,omitempty"`
}

// Preset is a named bundle of provider name, customization values, and an
// optional system message. Read-only once loaded.
type Preset struct {
	Metadata       PresetMetadata `toml:"metadata" json:"metadata"`
	Customizations map[string]any `toml:"customizations" json:"customizations"`
}

// Name returns the preset's name.
func (p *Preset) Name() string {
	return p.Metadata.Name
}
