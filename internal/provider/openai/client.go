// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// ProviderName is the registry key for this provider.
	ProviderName = "openai"

	// DefaultBaseURL is the API endpoint when none is configured.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModelName is used when a customization set names no model.
	DefaultModelName = "gpt-4o-mini"

	// DefaultTimeout bounds a single non-streaming request.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the retry count for transient failures.
	DefaultMaxRetries = 2

	// DefaultRetryDelay is the base delay between retries.
	DefaultRetryDelay = 1 * time.Second

	// apiKeyEnvVar names the environment variable holding the API key.
	apiKeyEnvVar = "OPENAI_API_KEY"
)

// contextWindows maps known model names to their maximum submission
// token counts. Models absent from this table fall back to
// fallbackContextWindow.
var contextWindows = map[string]int{
	"gpt-3.5-turbo":     4096,
	"gpt-3.5-turbo-16k": 16384,
	"gpt-4":             8192,
	"gpt-4-32k":         32768,
	"gpt-4-turbo":       128000,
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
}

const fallbackContextWindow = 4096

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the provider's connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns a config populated from the environment.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIKey:     os.Getenv(apiKeyEnvVar),
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// fill backfills zero values with defaults.
func (c *Config) fill() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv(apiKeyEnvVar)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// =============================================================================
// PROVIDER
// =============================================================================

// Provider is the OpenAI chat provider.
type Provider struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a provider with the given config. Zero values are
// backfilled with defaults.
func New(cfg Config) *Provider {
	cfg.fill()
	return &Provider{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Factory returns a registry factory producing this provider with
// default config.
func Factory() (provider.Provider, error) {
	return New(DefaultConfig()), nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() provider.Capabilities {
	models := make([]string, 0, len(contextWindows))
	for m := range contextWindows {
		models = append(models, m)
	}
	return provider.Capabilities{
		Chat:      true,
		Streaming: true,
		Models:    models,
	}
}

// DefaultModel implements provider.Provider.
func (p *Provider) DefaultModel() string { return DefaultModelName }

// MaxSubmissionTokens implements provider.Provider.
func (p *Provider) MaxSubmissionTokens(modelName string) int {
	if n, ok := contextWindows[modelName]; ok {
		return n
	}
	return fallbackContextWindow
}

// FormatMessages implements provider.Provider. The chat completions API
// accepts system/user/assistant roles unchanged.
func (p *Provider) FormatMessages(messages []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, len(messages))
	copy(out, messages)
	return out
}

// MakeClient implements provider.Provider.
func (p *Provider) MakeClient(customizations map[string]any) (provider.Client, error) {
	c := &Client{
		provider:   p,
		model:      DefaultModelName,
		httpClient: p.httpClient,
	}
	for key, raw := range customizations {
		switch key {
		case "model", "model_name":
			name, ok := raw.(string)
			if !ok {
				return nil, &provider.ValidationError{Key: key, Message: "model name must be a string"}
			}
			if _, known := contextWindows[name]; !known {
				return nil, &provider.ValidationError{Key: key, Message: fmt.Sprintf("unknown model: %s", name)}
			}
			c.model = name
		case "temperature":
			v, err := asFloat(raw)
			if err != nil {
				return nil, &provider.ValidationError{Key: key, Message: err.Error()}
			}
			c.temperature = &v
		case "top_p":
			v, err := asFloat(raw)
			if err != nil {
				return nil, &provider.ValidationError{Key: key, Message: err.Error()}
			}
			c.topP = &v
		case "max_tokens":
			v, err := asInt(raw)
			if err != nil {
				return nil, &provider.ValidationError{Key: key, Message: err.Error()}
			}
			c.maxTokens = &v
		default:
			return nil, &provider.ValidationError{Key: key, Message: "unsupported customization"}
		}
	}
	return c, nil
}

func asFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("expected a number, got %T", raw)
}

func asInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	}
	return 0, fmt.Errorf("expected an integer, got %v", raw)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an instantiated model bound to one customization set.
type Client struct {
	provider    *Provider
	model       string
	temperature *float64
	topP        *float64
	maxTokens   *int
	httpClient  *http.Client
}

// Model implements provider.Client.
func (c *Client) Model() string { return c.model }

// Invoke implements provider.Client.
func (c *Client) Invoke(ctx context.Context, messages []model.ChatMessage, opts provider.InvokeOptions) (*provider.Response, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    toWire(messages),
		Temperature: c.temperature,
		TopP:        c.topP,
		MaxTokens:   c.maxTokens,
		Stream:      opts.Stream,
	}
	if opts.Stream {
		return c.invokeStream(ctx, req, opts)
	}
	return c.invoke(ctx, req)
}

func toWire(messages []model.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wireMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return out
}

// invoke performs a non-streaming completion with retries on transient
// failures.
func (c *Client) invoke(ctx context.Context, req chatRequest) (*provider.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.provider.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, newError(ErrTypeTimeout, "request cancelled", ctx.Err())
			case <-time.After(c.provider.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		resp, err := c.do(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, req chatRequest) (*provider.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.provider.cfg.Timeout)
	defer cancel()

	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, errorFromStatus(httpResp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, newError(ErrTypeInvalidResponse, "failed to decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, newError(ErrTypeInvalidResponse, "response contained no choices", nil)
	}

	choice := parsed.Choices[0]
	out := &provider.Response{
		Content: choice.Message.Content,
		Raw:     &parsed,
	}
	if choice.Message.FunctionCall != nil {
		out.FunctionCall = marshalFunctionCall(choice.Message.FunctionCall)
	}
	return out, nil
}

// post sends the request body and classifies transport errors.
func (c *Client) post(ctx context.Context, req chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, newError(ErrTypeInvalidResponse, "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.provider.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, newError(ErrTypeConnection, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.provider.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.provider.cfg.APIKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return httpResp, nil
}

func classifyTransportError(err error) *ClientError {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrTypeTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ErrTypeTimeout, "request timed out", err)
	}
	return newError(ErrTypeConnection, "request failed", err)
}

func errorFromStatus(resp *http.Response) *ClientError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(body)
	var envelope apiError
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newError(ErrTypeAuth, msg, nil)
	case resp.StatusCode == http.StatusNotFound:
		return newError(ErrTypeModelNotFound, msg, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return newError(ErrTypeRateLimited, msg, nil)
	case resp.StatusCode >= 500:
		return newError(ErrTypeServer, msg, nil)
	}
	return newError(ErrTypeInvalidResponse, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, msg), nil)
}

// isRetryable reports whether the failure is transient.
func isRetryable(err error) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Type {
	case ErrTypeConnection, ErrTypeRateLimited, ErrTypeServer:
		return true
	}
	return false
}
