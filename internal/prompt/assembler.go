// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds the ordered message list submitted to a model.
package prompt

import (
	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// PROMPT ASSEMBLY
// =============================================================================

// Assembled holds the result of assembling a request.
type Assembled struct {
	// New contains the messages that must be persisted on success:
	// system + user when the conversation is fresh, otherwise just user.
	New []model.ChatMessage

	// All is the full submission list: persisted history converted to
	// wire shape, followed by New, in that order.
	All []model.ChatMessage
}

// Assemble builds the message list for a request. A system message is
// injected only when there is no persisted history; the first historical
// message already establishes it otherwise. systemOverride, when non-empty,
// takes precedence over systemMessage for this request.
//
// Assemble is a pure transform: fetching history and persisting the result
// are the caller's responsibility.
func Assemble(userPrompt string, history []*model.Message, systemMessage, systemOverride string) Assembled {
	var newMessages []model.ChatMessage
	if len(history) == 0 {
		system := systemMessage
		if systemOverride != "" {
			system = systemOverride
		}
		newMessages = append(newMessages, model.NewChatMessage(model.RoleSystem, system))
	}
	newMessages = append(newMessages, model.NewChatMessage(model.RoleUser, userPrompt))

	all := model.ToChat(history)
	all = append(all, newMessages...)

	return Assembled{New: newMessages, All: all}
}
