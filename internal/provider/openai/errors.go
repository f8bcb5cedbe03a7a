// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType classifies a client failure.
type ErrorType string

const (
	ErrTypeConnection      ErrorType = "connection"
	ErrTypeTimeout         ErrorType = "timeout"
	ErrTypeAuth            ErrorType = "auth"
	ErrTypeRateLimited     ErrorType = "rate_limited"
	ErrTypeModelNotFound   ErrorType = "model_not_found"
	ErrTypeInvalidResponse ErrorType = "invalid_response"
	ErrTypeServer          ErrorType = "server"
)

// Sentinel errors for errors.Is checks.
var (
	ErrConnection      = errors.New("connection failed")
	ErrTimeout         = errors.New("request timed out")
	ErrAuth            = errors.New("authentication failed")
	ErrRateLimited     = errors.New("rate limited")
	ErrModelNotFound   = errors.New("model not found")
	ErrInvalidResponse = errors.New("invalid response")
	ErrServer          = errors.New("server error")
)

// ClientError is a typed error returned by the chat client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is maps typed errors onto their sentinels.
func (e *ClientError) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Type == ErrTypeConnection
	case ErrTimeout:
		return e.Type == ErrTypeTimeout
	case ErrAuth:
		return e.Type == ErrTypeAuth
	case ErrRateLimited:
		return e.Type == ErrTypeRateLimited
	case ErrModelNotFound:
		return e.Type == ErrTypeModelNotFound
	case ErrInvalidResponse:
		return e.Type == ErrTypeInvalidResponse
	case ErrServer:
		return e.Type == ErrTypeServer
	}
	return false
}

func newError(t ErrorType, msg string, cause error) *ClientError {
	return &ClientError{Type: t, Message: msg, Cause: cause}
}
