// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokens estimates submission token counts for chat message lists.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// CHAT FRAMING CONSTANTS
// =============================================================================

// Chat-format framing costs. Every message is wrapped as
// <im_start>{role/name}\n{content}<im_end>\n, and every reply is primed
// with <im_start>assistant.
const (
	// tokensPerMessage is the fixed framing overhead per message.
	tokensPerMessage = 4

	// tokensPerName compensates for the role token being omitted when a
	// name field is present.
	tokensPerName = -1

	// tokensPerReply is the reply-priming overhead added once per request.
	tokensPerReply = 2
)

// FallbackEncodingName is used for models without a dedicated encoding table.
const FallbackEncodingName = "cl100k_base"

// =============================================================================
// ENCODING
// =============================================================================

// Encoding converts text to a token count. The concrete implementation is
// a tiktoken BPE table; tests substitute deterministic encodings.
type Encoding interface {
	// Count returns the number of tokens in the encoded text.
	Count(text string) int
}

// bpeEncoding wraps a tiktoken encoder.
type bpeEncoding struct {
	tk *tiktoken.Tiktoken
}

func (e *bpeEncoding) Count(text string) int {
	return len(e.tk.Encode(text, nil, nil))
}

// =============================================================================
// ESTIMATOR
// =============================================================================

// Estimator resolves per-model encodings and counts submission tokens.
// Encodings are cached per model name; resolution never fails for a model
// the caller has already validated against the provider's model set, it
// falls back to the generic table instead.
//
// The Estimator is safe for concurrent use.
type Estimator struct {
	mu    sync.Mutex
	cache map[string]Encoding

	// resolve maps a model name to an encoding. Overridable in tests.
	resolve func(modelName string) (Encoding, error)
}

// NewEstimator creates an estimator backed by the tiktoken tables.
func NewEstimator() *Estimator {
	return &Estimator{
		cache:   make(map[string]Encoding),
		resolve: resolveBPE,
	}
}

// NewEstimatorWithResolver creates an estimator with a custom encoding
// resolver. Intended for tests that need deterministic counts.
func NewEstimatorWithResolver(resolve func(modelName string) (Encoding, error)) *Estimator {
	return &Estimator{
		cache:   make(map[string]Encoding),
		resolve: resolve,
	}
}

// resolveBPE looks up the dedicated tiktoken table for a model, falling
// back to the generic table for unrecognized model names.
func resolveBPE(modelName string) (Encoding, error) {
	tk, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		tk, err = tiktoken.GetEncoding(FallbackEncodingName)
		if err != nil {
			return nil, fmt.Errorf("unable to load token encoding for model %s: %w", modelName, err)
		}
	}
	return &bpeEncoding{tk: tk}, nil
}

// EncodingForModel returns the encoding for a model name, cached after the
// first resolution.
func (e *Estimator) EncodingForModel(modelName string) (Encoding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.cache[modelName]; ok {
		return enc, nil
	}

	enc, err := e.resolve(modelName)
	if err != nil {
		return nil, err
	}
	e.cache[modelName] = enc
	return enc, nil
}

// CountMessages returns the number of submission tokens used by a message
// list under the given encoding: per-message framing overhead, the encoded
// length of every field value, the name compensation, and the reply primer.
func CountMessages(messages []model.ChatMessage, enc Encoding) int {
	numTokens := 0
	for _, msg := range messages {
		numTokens += tokensPerMessage
		values, hasName := msg.Fields()
		for _, v := range values {
			numTokens += enc.Count(v)
		}
		if hasName {
			numTokens += tokensPerName
		}
	}
	numTokens += tokensPerReply
	return numTokens
}

// CountForModel resolves the encoding for a model and counts the messages.
func (e *Estimator) CountForModel(messages []model.ChatMessage, modelName string) (int, error) {
	enc, err := e.EncodingForModel(modelName)
	if err != nil {
		return 0, err
	}
	return CountMessages(messages, enc), nil
}
