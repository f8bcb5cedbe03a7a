// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch invokes a provider client and normalizes the reply
// into plain text. It also owns the cooperative cancellation flag for
// streaming generation.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// CANCELLATION FLAG
// =============================================================================

// Flag is a cooperative cancellation signal shared between a streaming
// request and the caller that may interrupt it. Safe for concurrent use.
type Flag struct {
	triggered atomic.Bool
	streaming atomic.Bool
}

// StartStreaming marks a streaming request as in flight and clears any
// stale trigger.
func (f *Flag) StartStreaming() {
	f.triggered.Store(false)
	f.streaming.Store(true)
}

// StopStreaming marks the streaming request as finished.
func (f *Flag) StopStreaming() {
	f.streaming.Store(false)
}

// Streaming reports whether a streaming request is in flight.
func (f *Flag) Streaming() bool {
	return f.streaming.Load()
}

// Trigger requests interruption of the in-flight stream. It has no
// effect when nothing is streaming.
func (f *Flag) Trigger() bool {
	if !f.streaming.Load() {
		return false
	}
	f.triggered.Store(true)
	return true
}

// Triggered reports whether interruption was requested.
func (f *Flag) Triggered() bool {
	return f.triggered.Load()
}

// =============================================================================
// ERRORS
// =============================================================================

// InvocationError wraps a failure from the model call itself, as
// opposed to validation or persistence failures around it.
type InvocationError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Cause)
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Request describes one model invocation.
type Request struct {
	// Provider shapes the messages before submission.
	Provider provider.Provider

	// Client is the instantiated model to call.
	Client provider.Client

	// Messages is the full submission, system message included.
	Messages []model.ChatMessage

	// Stream requests incremental delivery through OnToken.
	Stream bool

	// OnToken receives each produced token during streaming.
	OnToken func(token string)

	// Flag carries the cancellation signal for streaming calls. May be
	// nil for non-streaming requests.
	Flag *Flag
}

// Result is a normalized model reply.
type Result struct {
	// Text is the extracted reply text.
	Text string

	// Response is the underlying provider response.
	Response *provider.Response

	// Interrupted reports that a streaming call was cut short by the
	// cancellation flag; Text holds the partial reply.
	Interrupted bool
}

// Dispatcher submits requests to provider clients.
type Dispatcher struct{}

// NewDispatcher creates a dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Call invokes the request's client and extracts the reply text. For
// streaming requests the flag is armed for the duration of the call and
// a triggered flag ends delivery with the partial text as the result.
func (d *Dispatcher) Call(ctx context.Context, req Request) (*Result, error) {
	messages := req.Messages
	if req.Provider != nil {
		messages = req.Provider.FormatMessages(messages)
	}

	opts := provider.InvokeOptions{
		Stream:  req.Stream,
		OnToken: req.OnToken,
	}
	if req.Stream && req.Flag != nil {
		req.Flag.StartStreaming()
		defer req.Flag.StopStreaming()
		opts.Interrupt = req.Flag.Triggered
	}

	resp, err := req.Client.Invoke(ctx, messages, opts)
	if err != nil {
		name := ""
		if req.Provider != nil {
			name = req.Provider.Name()
		}
		return nil, &InvocationError{Provider: name, Model: req.Client.Model(), Cause: err}
	}

	interrupted := req.Stream && req.Flag != nil && req.Flag.Triggered()
	return &Result{Text: ExtractText(resp), Response: resp, Interrupted: interrupted}, nil
}

// =============================================================================
// RESPONSE NORMALIZATION
// =============================================================================

// ExtractText reduces a provider response to plain text. Plain content
// wins; a structured function call is rendered as indented JSON; as a
// last resort the raw response is stringified.
func ExtractText(resp *provider.Response) string {
	if resp == nil {
		return ""
	}
	if resp.Content != "" {
		return resp.Content
	}
	if len(resp.FunctionCall) > 0 {
		return indentJSON(resp.FunctionCall)
	}
	if resp.Raw != nil {
		return fmt.Sprintf("%v", resp.Raw)
	}
	return ""
}

// indentJSON pretty-prints a raw JSON payload with 4-space indentation.
// Malformed payloads pass through verbatim.
func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return string(raw)
	}
	return buf.String()
}
