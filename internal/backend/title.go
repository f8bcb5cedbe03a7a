// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"strings"

	"github.com/jeranaias/parley/internal/dispatch"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// TITLE GENERATION
// =============================================================================

const (
	// titlePrompt asks the model for a short conversation title.
	titlePrompt = "Write a concise title of five words or fewer for the following prompt:\n\n"

	// titlePromptMaxChars bounds how much of the user prompt is sent.
	titlePromptMaxChars = 400

	// titleMaxChars bounds the stored title length.
	titleMaxChars = 100
)

// spawnTitleTask generates a title for a fresh conversation in the
// background. Failures are logged, never surfaced to the exchange that
// triggered them.
func (b *Backend) spawnTitleTask(conversationID string) {
	b.runner.Submit("generate title for "+conversationID, func(ctx context.Context) error {
		return b.generateTitle(ctx, conversationID)
	})
}

func (b *Backend) generateTitle(ctx context.Context, conversationID string) error {
	conv, err := b.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.HasTitle() {
		return nil
	}

	// The first user message seeds the title. The opening system
	// message, when present, is skipped.
	messages, err := b.store.GetMessages(ctx, conversationID, storage.MessageQuery{Limit: 2})
	if err != nil {
		return err
	}
	var seed string
	for _, m := range messages {
		if m.Role == model.RoleUser {
			seed = m.Content
			break
		}
	}
	if seed == "" {
		return nil
	}
	seed = util.TruncateRunesNoEllipsis(seed, titlePromptMaxChars)

	st := b.snapshot()
	if st.client == nil {
		return ErrNoProvider
	}
	result, err := b.dsp.Call(ctx, dispatch.Request{
		Provider: st.prov,
		Client:   st.client,
		Messages: []model.ChatMessage{
			{Role: model.RoleUser, Content: titlePrompt + seed},
		},
	})
	if err != nil {
		b.logger.Printf("title generation for %s failed: %v", conversationID, err)
		return err
	}

	title := sanitizeTitle(result.Text)
	if title == "" {
		return nil
	}
	return b.store.EditConversationTitle(ctx, conversationID, title)
}

// sanitizeTitle flattens newlines and quotes out of a generated title
// and bounds its length.
func sanitizeTitle(raw string) string {
	title := strings.ReplaceAll(raw, "\n", ", ")
	title = strings.Trim(title, `"' `)
	title = strings.TrimSpace(title)
	return strings.TrimSpace(util.TruncateRunesNoEllipsis(title, titleMaxChars))
}
