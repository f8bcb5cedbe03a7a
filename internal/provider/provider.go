// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the pluggable LLM backend interface and the
// registry that resolves provider names to live instances.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// CAPABILITIES
// =============================================================================

// Capabilities describes what a provider can do.
type Capabilities struct {
	// Chat indicates the provider accepts chat-shaped message lists and
	// has a token-budget concept.
	Chat bool

	// Streaming indicates the provider can deliver incremental tokens.
	Streaming bool

	// Models is the provider's known-model set.
	Models []string
}

// HasModel reports whether the model name is in the known-model set.
func (c Capabilities) HasModel(name string) bool {
	for _, m := range c.Models {
		if m == name {
			return true
		}
	}
	return false
}

// =============================================================================
// CLIENT
// =============================================================================

// InvokeOptions controls a single model invocation.
type InvokeOptions struct {
	// Stream requests incremental token delivery.
	Stream bool

	// OnToken receives each produced token during a streaming call.
	OnToken func(token string)

	// Interrupt is checked between tokens during streaming. When it
	// returns true the client stops accumulating further tokens and
	// returns what it has as a successful partial response.
	Interrupt func() bool
}

// Response is the normalized model reply before text extraction.
type Response struct {
	// Content is the plain text reply, possibly partial for an
	// interrupted stream.
	Content string

	// FunctionCall carries a structured function/tool invocation payload
	// when the model produced one instead of plain content.
	FunctionCall json.RawMessage

	// Raw is the provider-specific response object, kept for last-resort
	// stringification.
	Raw any
}

// Client is an instantiated, callable model. A Client is built from a
// provider plus a customization set and is immutable afterwards.
type Client interface {
	// Invoke submits messages and blocks until the reply is complete or,
	// for streaming calls, until the interrupt fires.
	Invoke(ctx context.Context, messages []model.ChatMessage, opts InvokeOptions) (*Response, error)

	// Model returns the model name this client submits to.
	Model() string
}

// =============================================================================
// PROVIDER
// =============================================================================

// Provider is a pluggable LLM backend. Implementations live in
// subpackages and register factories with a Registry.
type Provider interface {
	// Name is the stable registry key (e.g. "openai").
	Name() string

	// Capabilities returns the provider's capability flags and model set.
	Capabilities() Capabilities

	// DefaultModel is the model used when a customization set names none.
	DefaultModel() string

	// MaxSubmissionTokens returns the maximum total submission tokens
	// (history + new prompt) the given model accepts in one request.
	MaxSubmissionTokens(modelName string) int

	// MakeClient instantiates a callable model client from a
	// customization map. Unknown keys or malformed values fail with a
	// ValidationError.
	MakeClient(customizations map[string]any) (Client, error)

	// FormatMessages applies the provider's message-shaping rules before
	// submission (role renames, merging, etc.).
	FormatMessages(messages []model.ChatMessage) []model.ChatMessage
}

// =============================================================================
// ERRORS
// =============================================================================

// NotFoundError indicates a provider name with no registered factory.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider not found: %s", e.Name)
}

// ValidationError indicates a malformed customization value or an
// unsupported model name.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}
