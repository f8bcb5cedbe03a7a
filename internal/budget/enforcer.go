// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget trims message lists to fit a model's submission limit.
package budget

import (
	"fmt"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/tokens"
)

// =============================================================================
// ERRORS
// =============================================================================

// ExceededError is returned when the single remaining message still
// exceeds the maximum submission tokens after full eviction.
type ExceededError struct {
	TokenCount int
	MaxTokens  int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("no messages to send, all messages have been stripped, still over max submission tokens: %d", e.MaxTokens)
}

// =============================================================================
// ENFORCEMENT
// =============================================================================

// Result describes the outcome of an enforcement pass.
type Result struct {
	// TokenCount is the submission token count of the trimmed list.
	TokenCount int

	// Evicted is the number of messages removed from the front.
	Evicted int

	// MaxTokens is the limit that was enforced.
	MaxTokens int
}

// Warning returns the non-fatal warning text for a pass that evicted
// messages, or "" when nothing was evicted.
func (r Result) Warning() string {
	if r.Evicted == 0 {
		return ""
	}
	return fmt.Sprintf("conversation exceeded max submission tokens (%d), stripped out %d oldest messages before sending, sent %d tokens instead",
		r.MaxTokens, r.Evicted, r.TokenCount)
}

// Enforce evicts the oldest messages until the list fits maxTokens.
//
// liveTokens is the current running count for the list; nil means the
// active provider has no chat capability and no budget concept, in which
// case the list is returned unmodified. Eviction is strictly FIFO by
// position, irrespective of role, and the count is recomputed over the
// entire remaining list after every removal. The last remaining message
// is never evicted; if it alone still exceeds maxTokens the pass fails
// with ExceededError.
func Enforce(messages []model.ChatMessage, liveTokens *int, maxTokens int, enc tokens.Encoding) ([]model.ChatMessage, Result, error) {
	if liveTokens == nil {
		return messages, Result{}, nil
	}

	tokenCount := *liveTokens
	evicted := 0
	for tokenCount > maxTokens && len(messages) > 1 {
		messages = messages[1:]
		tokenCount = tokens.CountMessages(messages, enc)
		evicted++
	}

	tokenCount = tokens.CountMessages(messages, enc)
	if tokenCount > maxTokens {
		return nil, Result{}, &ExceededError{TokenCount: tokenCount, MaxTokens: maxTokens}
	}

	return messages, Result{TokenCount: tokenCount, Evicted: evicted, MaxTokens: maxTokens}, nil
}
