// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

func testProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "sk-or-test", MaxRetries: 0})
}

func TestResolveModel(t *testing.T) {
	if got := ResolveModel("sonnet"); got != "anthropic/claude-3.5-sonnet" {
		t.Errorf("alias not resolved: %s", got)
	}
	if got := ResolveModel("openai/gpt-4o"); got != "openai/gpt-4o" {
		t.Errorf("full identifier should pass through: %s", got)
	}
}

func TestInvokeWithoutAPIKey(t *testing.T) {
	p := New(Config{APIKey: ""})
	client, err := p.MakeClient(nil)
	if err != nil {
		t.Fatalf("MakeClient failed: %v", err)
	}
	_, err = client.Invoke(context.Background(), nil, provider.InvokeOptions{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestInvokeReturnsContent(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-or-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"routed reply"},"finish_reason":"stop"}]}`)
	})

	client, _ := p.MakeClient(map[string]any{"model": "gpt4o"})
	resp, err := client.Invoke(context.Background(), []model.ChatMessage{
		{Role: model.RoleUser, Content: "Hi"},
	}, provider.InvokeOptions{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if resp.Content != "routed reply" {
		t.Errorf("expected 'routed reply', got %q", resp.Content)
	}
}

func TestInvokeAPIErrorSentinels(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusPaymentRequired, ErrInsufficientCredits},
		{http.StatusNotFound, ErrModelNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tc := range cases {
		p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			fmt.Fprint(w, `{"error":{"code":"failed","message":"nope"}}`)
		})
		client, _ := p.MakeClient(nil)
		_, err := client.Invoke(context.Background(), nil, provider.InvokeOptions{})
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestInvokeStream(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"tial\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	client, _ := p.MakeClient(nil)
	var tokens []string
	resp, err := client.Invoke(context.Background(), nil, provider.InvokeOptions{
		Stream:  true,
		OnToken: func(tok string) { tokens = append(tokens, tok) },
	})
	if err != nil {
		t.Fatalf("streaming invoke failed: %v", err)
	}
	if resp.Content != "partial" {
		t.Errorf("expected accumulated content, got %q", resp.Content)
	}
	if len(tokens) != 2 {
		t.Errorf("expected 2 tokens, got %d", len(tokens))
	}
}

func TestFormatMessagesFoldsNames(t *testing.T) {
	p := New(Config{})
	out := p.FormatMessages([]model.ChatMessage{
		{Role: model.RoleUser, Content: "hello", Name: "alice"},
		{Role: model.RoleAssistant, Content: "hi"},
	})
	if out[0].Content != "alice: hello" || out[0].Name != "" {
		t.Errorf("name not folded into content: %+v", out[0])
	}
	if out[1].Content != "hi" {
		t.Errorf("unnamed message changed: %+v", out[1])
	}
}

func TestMakeClientRejectsUnknownModel(t *testing.T) {
	p := New(Config{})
	var ve *provider.ValidationError
	_, err := p.MakeClient(map[string]any{"model": "made-up"})
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestMaxSubmissionTokensResolvesAliases(t *testing.T) {
	p := New(Config{})
	if got := p.MaxSubmissionTokens("opus"); got != 200000 {
		t.Errorf("expected 200000 for opus alias, got %d", got)
	}
	if got := p.MaxSubmissionTokens("unknown/model"); got != fallbackContextWindow {
		t.Errorf("expected fallback window, got %d", got)
	}
}
