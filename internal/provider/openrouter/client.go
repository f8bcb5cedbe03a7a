// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openrouter implements the provider interface over the
// OpenRouter API, which fronts multiple upstream LLM vendors through a
// single OpenAI-compatible endpoint.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// ProviderName is the registry key for this provider.
	ProviderName = "openrouter"

	// DefaultBaseURL is the base URL for the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModelName routes to OpenRouter's automatic model selection.
	DefaultModelName = "openrouter/auto"

	// DefaultTimeout bounds a single non-streaming request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry count for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff delay.
	retryMaxDelay = 10 * time.Second

	// maxResponseSize caps response bodies to prevent memory exhaustion.
	maxResponseSize = 10 * 1024 * 1024

	// requestsPerSecond is the client-side rate limit.
	requestsPerSecond = 2

	// apiKeyEnvVar names the environment variable holding the API key.
	apiKeyEnvVar = "OPENROUTER_API_KEY"
)

// modelAliases maps friendly names to full model identifiers.
var modelAliases = map[string]string{
	"auto":   "openrouter/auto",
	"haiku":  "anthropic/claude-3.5-haiku",
	"sonnet": "anthropic/claude-3.5-sonnet",
	"opus":   "anthropic/claude-3-opus",
	"gpt4o":  "openai/gpt-4o",
	"gpt4":   "openai/gpt-4-turbo",
}

// contextWindows maps model identifiers to their maximum submission
// token counts.
var contextWindows = map[string]int{
	"openrouter/auto":                 8192,
	"anthropic/claude-3-opus":         200000,
	"anthropic/claude-3.5-sonnet":     200000,
	"anthropic/claude-3.5-haiku":      200000,
	"openai/gpt-4-turbo":              128000,
	"openai/gpt-4o":                   128000,
	"openai/gpt-4o-mini":              128000,
	"google/gemini-pro-1.5":           1000000,
	"meta-llama/llama-3-70b-instruct": 8192,
	"meta-llama/llama-3-8b-instruct":  8192,
}

const fallbackContextWindow = 8192

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("OpenRouter API key not configured")

	// ErrAuthFailed indicates an invalid or expired API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account balance is exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// APIError is an error returned by the OpenRouter API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
}

// Unwrap maps API errors onto sentinels by status.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// PROVIDER
// =============================================================================

// Config holds the provider's connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	SiteURL    string
	SiteName   string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns a config populated from the environment.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIKey:     strings.TrimSpace(os.Getenv(apiKeyEnvVar)),
		SiteURL:    "https://parley.local",
		SiteName:   "parley",
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

func (c *Config) fill() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// Provider is the OpenRouter chat provider. A shared pooled HTTP client
// and a client-side rate limiter are used for all requests.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a provider with the given config. Zero values are
// backfilled with defaults.
func New(cfg Config) *Provider {
	cfg.fill()
	return &Provider{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
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
	if n, ok := contextWindows[ResolveModel(modelName)]; ok {
		return n
	}
	return fallbackContextWindow
}

// ResolveModel expands a friendly alias to its full model identifier.
// Unknown names pass through unchanged.
func ResolveModel(name string) string {
	if full, ok := modelAliases[name]; ok {
		return full
	}
	return name
}

// FormatMessages implements provider.Provider. OpenRouter rejects the
// name field, so named messages fold the name into the content.
func (p *Provider) FormatMessages(messages []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Name != "" {
			m.Content = m.Name + ": " + m.Content
			m.Name = ""
		}
		out = append(out, m)
	}
	return out
}

// MakeClient implements provider.Provider.
func (p *Provider) MakeClient(customizations map[string]any) (provider.Client, error) {
	c := &Client{
		provider: p,
		model:    DefaultModelName,
	}
	for key, raw := range customizations {
		switch key {
		case "model", "model_name":
			name, ok := raw.(string)
			if !ok {
				return nil, &provider.ValidationError{Key: key, Message: "model name must be a string"}
			}
			resolved := ResolveModel(name)
			if _, known := contextWindows[resolved]; !known {
				return nil, &provider.ValidationError{Key: key, Message: fmt.Sprintf("unknown model: %s", name)}
			}
			c.model = resolved
		case "temperature":
			v, ok := toFloat(raw)
			if !ok {
				return nil, &provider.ValidationError{Key: key, Message: "expected a number"}
			}
			c.temperature = &v
		case "max_tokens":
			v, ok := toInt(raw)
			if !ok {
				return nil, &provider.ValidationError{Key: key, Message: "expected an integer"}
			}
			c.maxTokens = &v
		default:
			return nil, &provider.ValidationError{Key: key, Message: "unsupported customization"}
		}
	}
	return c, nil
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an instantiated model bound to one customization set.
type Client struct {
	provider    *Provider
	model       string
	temperature *float64
	maxTokens   *int
}

// Model implements provider.Client.
func (c *Client) Model() string { return c.model }

// Invoke implements provider.Client.
func (c *Client) Invoke(ctx context.Context, messages []model.ChatMessage, opts provider.InvokeOptions) (*provider.Response, error) {
	if c.provider.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	req := chatRequest{
		Model:       c.model,
		Messages:    toWire(messages),
		Stream:      opts.Stream,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if opts.Stream {
		return c.invokeStream(ctx, req, opts)
	}
	return c.invoke(ctx, req)
}

func toWire(messages []model.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (c *Client) invoke(ctx context.Context, req chatRequest) (*provider.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.provider.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
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

// backoffDelay computes the exponential backoff delay for an attempt.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status >= 500
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
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
		return nil, readAPIError(httpResp)
	}

	var parsed chatResponse
	limited := io.LimitReader(httpResp.Body, maxResponseSize)
	if err := json.NewDecoder(limited).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}
	return &provider.Response{
		Content: parsed.Choices[0].Message.Content,
		Raw:     &parsed,
	}, nil
}

func (c *Client) post(ctx context.Context, req chatRequest) (*http.Response, error) {
	if err := c.provider.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.provider.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.provider.cfg.APIKey)
	if c.provider.cfg.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", c.provider.cfg.SiteURL)
	}
	if c.provider.cfg.SiteName != "" {
		httpReq.Header.Set("X-Title", c.provider.cfg.SiteName)
	}

	return c.provider.httpClient.Do(httpReq)
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	var envelope apiErrorResponse
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Code = fmt.Sprint(envelope.Error.Code)
	}
	return apiErr
}

// invokeStream performs a streaming completion. Interrupting mid-stream
// returns the accumulated partial content as a successful response.
func (c *Client) invokeStream(ctx context.Context, req chatRequest, opts provider.InvokeOptions) (*provider.Response, error) {
	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, readAPIError(httpResp)
	}

	var content strings.Builder
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if tok := chunk.Choices[0].Delta.Content; tok != "" {
			content.WriteString(tok)
			if opts.OnToken != nil {
				opts.OnToken(tok)
			}
		}

		if opts.Interrupt != nil && opts.Interrupt() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		if opts.Interrupt != nil && opts.Interrupt() {
			return &provider.Response{Content: content.String()}, nil
		}
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	return &provider.Response{Content: content.String()}, nil
}
