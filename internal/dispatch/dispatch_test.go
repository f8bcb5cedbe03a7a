// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// fakeClient returns a canned response or error.
type fakeClient struct {
	model   string
	resp    *provider.Response
	err     error
	gotOpts provider.InvokeOptions
	gotMsgs []model.ChatMessage
}

func (c *fakeClient) Invoke(ctx context.Context, messages []model.ChatMessage, opts provider.InvokeOptions) (*provider.Response, error) {
	c.gotMsgs = messages
	c.gotOpts = opts
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func (c *fakeClient) Model() string { return c.model }

func TestFlagLifecycle(t *testing.T) {
	var f Flag

	if f.Trigger() {
		t.Error("trigger with no stream in flight should report false")
	}

	f.StartStreaming()
	if !f.Streaming() {
		t.Fatal("expected streaming state")
	}
	if !f.Trigger() {
		t.Error("trigger during streaming should report true")
	}
	if !f.Triggered() {
		t.Error("expected triggered state")
	}

	f.StopStreaming()
	f.StartStreaming()
	if f.Triggered() {
		t.Error("StartStreaming should clear a stale trigger")
	}
}

func TestCallReturnsText(t *testing.T) {
	client := &fakeClient{model: "m", resp: &provider.Response{Content: "hello"}}
	d := NewDispatcher()

	res, err := d.Call(context.Background(), Request{Client: client, Messages: []model.ChatMessage{
		{Role: model.RoleUser, Content: "hi"},
	}})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("expected 'hello', got %q", res.Text)
	}
}

func TestCallWrapsClientError(t *testing.T) {
	cause := errors.New("boom")
	client := &fakeClient{model: "m", err: cause}
	d := NewDispatcher()

	_, err := d.Call(context.Background(), Request{Client: client})
	var ie *InvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to survive errors.Is")
	}
	if ie.Model != "m" {
		t.Errorf("expected model in error, got %q", ie.Model)
	}
}

func TestCallArmsFlagForStreaming(t *testing.T) {
	client := &fakeClient{model: "m", resp: &provider.Response{Content: "x"}}
	d := NewDispatcher()
	var f Flag

	_, err := d.Call(context.Background(), Request{Client: client, Stream: true, Flag: &f})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if client.gotOpts.Interrupt == nil {
		t.Error("expected interrupt hook to be wired for streaming calls")
	}
	if f.Streaming() {
		t.Error("flag should be disarmed after the call returns")
	}
}

func TestCallMarksInterruptedResult(t *testing.T) {
	var f Flag
	client := &fakeClient{model: "m", resp: &provider.Response{Content: "par"}}
	d := NewDispatcher()

	// The client triggers its own interrupt mid-stream, as a provider
	// does when the hook fires between tokens.
	interrupting := &interruptingClient{fakeClient: client, flag: &f}
	res, err := d.Call(context.Background(), Request{Client: interrupting, Stream: true, Flag: &f})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !res.Interrupted {
		t.Error("expected the result to be marked interrupted")
	}
	if res.Text != "par" {
		t.Errorf("partial text should survive an interrupt, got %q", res.Text)
	}
}

// interruptingClient triggers the flag during its own invocation.
type interruptingClient struct {
	*fakeClient
	flag *Flag
}

func (c *interruptingClient) Invoke(ctx context.Context, messages []model.ChatMessage, opts provider.InvokeOptions) (*provider.Response, error) {
	c.flag.Trigger()
	return c.fakeClient.Invoke(ctx, messages, opts)
}

func TestExtractTextFunctionCall(t *testing.T) {
	resp := &provider.Response{
		FunctionCall: json.RawMessage(`{"name":"add","arguments":"{\"a\":1}"}`),
	}
	text := ExtractText(resp)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("extracted text is not valid JSON: %v", err)
	}
	if parsed["name"] != "add" {
		t.Errorf("expected function name in payload, got %v", parsed)
	}
	// 4-space indentation on nested keys.
	if want := "\n    \"name\""; !strings.Contains(text, want) {
		t.Errorf("expected indented JSON, got %q", text)
	}
}

func TestExtractTextFallsBackToRaw(t *testing.T) {
	resp := &provider.Response{Raw: 42}
	if got := ExtractText(resp); got != "42" {
		t.Errorf("expected stringified raw, got %q", got)
	}
	if got := ExtractText(nil); got != "" {
		t.Errorf("expected empty text for nil response, got %q", got)
	}
}
