// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// STREAMING
// =============================================================================

// streamDataPrefix marks a server-sent event payload line.
const streamDataPrefix = "data: "

// streamDoneMarker terminates the event stream.
const streamDoneMarker = "[DONE]"

// invokeStream performs a streaming completion, delivering tokens
// through opts.OnToken. When opts.Interrupt reports true between
// tokens, accumulation stops and the partial content is returned as a
// successful response.
func (c *Client) invokeStream(ctx context.Context, req chatRequest, opts provider.InvokeOptions) (*provider.Response, error) {
	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, errorFromStatus(httpResp)
	}

	var (
		content strings.Builder
		fc      functionCall
		sawFC   bool
		lastRaw *streamChunk
		scanner = bufio.NewScanner(httpResp.Body)
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, streamDataPrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, streamDataPrefix)
		if payload == streamDoneMarker {
			break
		}

		var chunk streamChunk
		if err := unmarshalChunk(payload, &chunk); err != nil {
			return nil, err
		}
		lastRaw = &chunk
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			content.WriteString(delta.Content)
			if opts.OnToken != nil {
				opts.OnToken(delta.Content)
			}
		}
		if delta.FunctionCall != nil {
			sawFC = true
			if delta.FunctionCall.Name != "" {
				fc.Name = delta.FunctionCall.Name
			}
			fc.Arguments += delta.FunctionCall.Arguments
		}

		if opts.Interrupt != nil && opts.Interrupt() {
			// Partial content is a valid reply.
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, newError(ErrTypeTimeout, "stream cancelled", err)
		}
	}
	if err := scanner.Err(); err != nil {
		if interrupted(opts) {
			// The transport may fail mid-read when we stop consuming;
			// the accumulated text still stands.
			return streamResponse(content.String(), sawFC, fc, lastRaw), nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newError(ErrTypeConnection, "stream ended unexpectedly", err)
		}
		return nil, newError(ErrTypeConnection, "failed to read stream", err)
	}

	return streamResponse(content.String(), sawFC, fc, lastRaw), nil
}

func interrupted(opts provider.InvokeOptions) bool {
	return opts.Interrupt != nil && opts.Interrupt()
}

func streamResponse(content string, sawFC bool, fc functionCall, raw *streamChunk) *provider.Response {
	out := &provider.Response{Content: content, Raw: raw}
	if sawFC {
		out.FunctionCall = marshalFunctionCall(&fc)
	}
	return out
}

func unmarshalChunk(payload string, chunk *streamChunk) error {
	if err := json.Unmarshal([]byte(payload), chunk); err != nil {
		return newError(ErrTypeInvalidResponse, "failed to decode stream chunk", err)
	}
	return nil
}
