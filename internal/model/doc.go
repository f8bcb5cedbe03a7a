// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the core data structures shared across parley:
// chat messages in their ephemeral wire shape, persisted conversations,
// messages, users, and presets.
package model
